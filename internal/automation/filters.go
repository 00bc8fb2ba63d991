package automation

import (
	"fmt"
	"regexp"
	"strings"

	"meshgate/internal/domain"
)

// NodeFilter is a compiled filter predicate over mesh nodes. The zero
// value matches everything.
type NodeFilter struct {
	channels map[uint32]struct{}
	roles    map[string]struct{}
	hwModels map[string]struct{}
	nameRe   *regexp.Regexp
	nodes    map[uint32]struct{}
}

// CompileFilter validates and compiles filter settings.
func CompileFilter(settings FilterSettings) (NodeFilter, error) {
	filter := NodeFilter{}

	if len(settings.Channels) > 0 {
		filter.channels = make(map[uint32]struct{}, len(settings.Channels))
		for _, ch := range settings.Channels {
			filter.channels[ch] = struct{}{}
		}
	}
	if len(settings.Roles) > 0 {
		filter.roles = make(map[string]struct{}, len(settings.Roles))
		for _, role := range settings.Roles {
			filter.roles[strings.ToUpper(role)] = struct{}{}
		}
	}
	if len(settings.HwModels) > 0 {
		filter.hwModels = make(map[string]struct{}, len(settings.HwModels))
		for _, model := range settings.HwModels {
			filter.hwModels[strings.ToUpper(model)] = struct{}{}
		}
	}
	if settings.NameRegex != "" {
		re, err := regexp.Compile(settings.NameRegex)
		if err != nil {
			return NodeFilter{}, fmt.Errorf("compile name filter %q: %w", settings.NameRegex, err)
		}
		filter.nameRe = re
	}
	if len(settings.Nodes) > 0 {
		filter.nodes = make(map[uint32]struct{}, len(settings.Nodes))
		for _, num := range settings.Nodes {
			filter.nodes[num] = struct{}{}
		}
	}

	return filter, nil
}

// Matches applies every configured constraint; constraints are ANDed.
func (f NodeFilter) Matches(node domain.Node) bool {
	if f.nodes != nil {
		if _, ok := f.nodes[node.NodeNum]; !ok {
			return false
		}
	}
	if f.channels != nil {
		if node.ChannelLastHeard == nil {
			return false
		}
		if _, ok := f.channels[*node.ChannelLastHeard]; !ok {
			return false
		}
	}
	if f.roles != nil {
		if _, ok := f.roles[strings.ToUpper(node.Role)]; !ok {
			return false
		}
	}
	if f.hwModels != nil {
		if _, ok := f.hwModels[strings.ToUpper(node.HwModel)]; !ok {
			return false
		}
	}
	if f.nameRe != nil {
		if !f.nameRe.MatchString(node.LongName) && !f.nameRe.MatchString(node.ShortName) {
			return false
		}
	}

	return true
}
