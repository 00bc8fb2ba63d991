// Package channelurl converts channel sets to and from the textual
// form used for sharing channels, `#?<base64url(ChannelSet)>`. The
// package never prepends a web origin; callers that want a full link
// put their own base in front of the fragment.
package channelurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"
)

var ErrEmptyURL = errors.New("channel url is empty")

// Encode renders a channel set as a shareable fragment starting with "#".
func Encode(set *meshtasticpb.ChannelSet) (string, error) {
	if set == nil || len(set.GetSettings()) == 0 {
		return "", errors.New("channel set has no channels")
	}
	payload, err := proto.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("marshal channel set: %w", err)
	}

	return "#?" + base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode parses a shared channel URL. It accepts a full URL, a bare
// fragment ("#..." or "#?...") or just the base64 payload, with or
// without padding.
func Decode(raw string) (*meshtasticpb.ChannelSet, error) {
	payload := strings.TrimSpace(raw)
	if idx := strings.LastIndexByte(payload, '#'); idx >= 0 {
		payload = payload[idx+1:]
	}
	payload = strings.TrimPrefix(payload, "?")
	payload = strings.TrimRight(payload, "=")
	if payload == "" {
		return nil, ErrEmptyURL
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode channel url: %w", err)
	}

	var set meshtasticpb.ChannelSet
	if err := proto.Unmarshal(decoded, &set); err != nil {
		return nil, fmt.Errorf("parse channel set: %w", err)
	}

	return &set, nil
}
