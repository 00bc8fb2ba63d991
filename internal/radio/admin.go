package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"meshgate/internal/domain"
)

// isLocalAdmin reports whether to addresses the physical gateway itself.
// Local admin needs no session passkey.
func (s *Session) isLocalAdmin(to uint32) bool {
	return to == 0 || to == s.store.LocalNodeNum()
}

// sendAdmin delivers msg to the admin app on a node and optionally awaits
// the reply. Remote targets get a session passkey attached transparently;
// a stale-passkey rejection triggers one refresh-and-retry before the
// error reaches the caller.
func (s *Session) sendAdmin(ctx context.Context, to uint32, wantResponse bool, msg *meshtasticpb.AdminMessage) (*meshtasticpb.AdminMessage, error) {
	// Fire-and-forget sends only ever resolve via a transport ack;
	// response-awaiting ones must survive the ack and wait for the
	// admin payload.
	kind := KindAck
	if wantResponse {
		kind = KindAdmin
	}

	reply, err := s.sendAdminOnce(ctx, to, wantResponse, kind, msg)
	if err == nil || s.isLocalAdmin(to) || !isAdminDenied(err) {
		return reply, err
	}

	s.logger.Info("session passkey rejected, refreshing", "node", domain.NodeID(to))
	s.passkeys.Invalidate(to)

	return s.sendAdminOnce(ctx, to, wantResponse, kind, msg)
}

func isAdminDenied(err error) bool {
	return errors.Is(err, ErrAdminDenied)
}

func (s *Session) sendAdminOnce(ctx context.Context, to uint32, wantResponse bool, kind RequestKind, msg *meshtasticpb.AdminMessage) (*meshtasticpb.AdminMessage, error) {
	if s.State() == StateDisconnected {
		return nil, ErrNotConnected
	}

	// Clone before mutating: callers may reuse the message, and the
	// passkey differs per target.
	out, ok := proto.Clone(msg).(*meshtasticpb.AdminMessage)
	if !ok {
		return nil, fmt.Errorf("clone admin message")
	}

	if !s.isLocalAdmin(to) && kind != KindPasskey {
		key, err := s.passkeys.Get(ctx, to, func(ctx context.Context) ([]byte, error) {
			return s.fetchPasskey(ctx, to)
		})
		if err != nil {
			return nil, fmt.Errorf("obtain session passkey for %s: %w", domain.NodeID(to), err)
		}
		out.SessionPasskey = key
	}

	pkt, err := s.codec.EncodeAdmin(to, wantResponse, out)
	if err != nil {
		return nil, fmt.Errorf("encode admin message: %w", err)
	}

	pending := s.requests.Register(pkt.PacketID, kind, to)
	s.enqueue(pkt)

	if !wantResponse {
		// Fire-and-forget still listens briefly for a NAK so stale
		// passkeys surface instead of vanishing.
		waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		value, err := pending.Await(waitCtx)
		if err != nil {
			return nil, nil //nolint:nilnil // timeout without a NAK is success
		}

		return nil, ackToError(value)
	}

	value, err := pending.Await(ctx)
	if err != nil {
		return nil, err
	}
	if reply, ok := value.(*meshtasticpb.AdminMessage); ok {
		return reply, nil
	}

	return nil, ackToError(value)
}

// ackToError maps a NAK resolution to a caller-facing error. A clean ack
// is success.
func ackToError(value any) error {
	ack, ok := value.(AckEvent)
	if !ok {
		return fmt.Errorf("unexpected admin reply type %T", value)
	}
	if !ack.Failed() {
		return nil
	}
	if ack.ErrorReason == meshtasticpb.Routing_ADMIN_BAD_SESSION_KEY.String() ||
		ack.ErrorReason == meshtasticpb.Routing_ADMIN_PUBLIC_KEY_UNAUTHORIZED.String() {
		return ErrAdminDenied
	}

	return fmt.Errorf("admin request rejected: %s", ack.ErrorReason)
}

// fetchPasskey performs the sessionkey exchange with a remote node. The
// KindPasskey registration gets the longer multi-hop timeout.
func (s *Session) fetchPasskey(ctx context.Context, to uint32) ([]byte, error) {
	req := &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_GetConfigRequest{
			GetConfigRequest: meshtasticpb.AdminMessage_SESSIONKEY_CONFIG,
		},
	}
	reply, err := s.sendAdminOnce(ctx, to, true, KindPasskey, req)
	if err != nil {
		return nil, err
	}
	key := reply.GetSessionPasskey()
	if len(key) == 0 {
		return nil, ErrFirmwareNotSupported
	}

	return key, nil
}

// WithEdit brackets fn between begin_edit_settings and
// commit_edit_settings so multi-field changes land atomically. The commit
// is sent even when fn fails partway.
func (s *Session) WithEdit(ctx context.Context, to uint32, fn func(context.Context) error) error {
	begin := &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_BeginEditSettings{BeginEditSettings: true},
	}
	if _, err := s.sendAdmin(ctx, to, false, begin); err != nil {
		return fmt.Errorf("begin edit settings: %w", err)
	}

	fnErr := fn(ctx)

	commit := &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_CommitEditSettings{CommitEditSettings: true},
	}
	// Commit runs on a fresh context so a cancelled fn cannot leave the
	// device in an open edit transaction.
	commitCtx, cancel := context.WithTimeout(context.Background(), KindAdmin.Timeout())
	defer cancel()
	if _, err := s.sendAdmin(commitCtx, to, false, commit); err != nil {
		if fnErr != nil {
			return fnErr
		}

		return fmt.Errorf("commit edit settings: %w", err)
	}

	return fnErr
}

// GetConfig fetches one device config section.
func (s *Session) GetConfig(ctx context.Context, to uint32, section meshtasticpb.AdminMessage_ConfigType) (*meshtasticpb.Config, error) {
	reply, err := s.sendAdmin(ctx, to, true, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_GetConfigRequest{GetConfigRequest: section},
	})
	if err != nil {
		return nil, err
	}

	return reply.GetGetConfigResponse(), nil
}

// GetModuleConfig fetches one module config section.
func (s *Session) GetModuleConfig(ctx context.Context, to uint32, section meshtasticpb.AdminMessage_ModuleConfigType) (*meshtasticpb.ModuleConfig, error) {
	reply, err := s.sendAdmin(ctx, to, true, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_GetModuleConfigRequest{GetModuleConfigRequest: section},
	})
	if err != nil {
		return nil, err
	}

	return reply.GetGetModuleConfigResponse(), nil
}

// GetDeviceMetadata queries firmware and hardware capability info.
func (s *Session) GetDeviceMetadata(ctx context.Context, to uint32) (*meshtasticpb.DeviceMetadata, error) {
	reply, err := s.sendAdmin(ctx, to, true, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_GetDeviceMetadataRequest{GetDeviceMetadataRequest: true},
	})
	if err != nil {
		return nil, err
	}

	return reply.GetGetDeviceMetadataResponse(), nil
}

func (s *Session) SetOwner(ctx context.Context, to uint32, longName, shortName string) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetOwner{SetOwner: &meshtasticpb.User{
			LongName:  longName,
			ShortName: shortName,
		}},
	})

	return err
}

func (s *Session) SetChannel(ctx context.Context, to uint32, channel *meshtasticpb.Channel) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetChannel{SetChannel: channel},
	})

	return err
}

func (s *Session) SetConfig(ctx context.Context, to uint32, config *meshtasticpb.Config) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetConfig{SetConfig: config},
	})

	return err
}

func (s *Session) SetModuleConfig(ctx context.Context, to uint32, config *meshtasticpb.ModuleConfig) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetModuleConfig{SetModuleConfig: config},
	})

	return err
}

// SetFixedPosition pins a node's reported position.
func (s *Session) SetFixedPosition(ctx context.Context, to uint32, lat, lon float64, altitude int32) error {
	latI := int32(lat * 1e7)
	lonI := int32(lon * 1e7)
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetFixedPosition{SetFixedPosition: &meshtasticpb.Position{
			LatitudeI:  &latI,
			LongitudeI: &lonI,
			Altitude:   &altitude,
		}},
	})

	return err
}

// SetTime pushes the gateway clock onto a node that has no time source.
func (s *Session) SetTime(ctx context.Context, to uint32, at time.Time) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetTimeOnly{SetTimeOnly: uint32(at.Unix())},
	})

	return err
}

func (s *Session) Reboot(ctx context.Context, to uint32, delay time.Duration) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_RebootSeconds{RebootSeconds: int32(delay / time.Second)},
	})

	return err
}

func (s *Session) NodedbReset(ctx context.Context, to uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_NodedbReset{NodedbReset: 1},
	})

	return err
}

// SetFavorite marks target as a favorite on the device at to and mirrors
// the flag locally so extended retention applies immediately.
func (s *Session) SetFavorite(ctx context.Context, to uint32, target uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetFavoriteNode{SetFavoriteNode: target},
	})
	if err == nil && s.isLocalAdmin(to) {
		s.store.Mutate(target, func(n *domain.Node) { n.IsFavorite = true })
	}

	return err
}

func (s *Session) RemoveFavorite(ctx context.Context, to uint32, target uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_RemoveFavoriteNode{RemoveFavoriteNode: target},
	})
	if err == nil && s.isLocalAdmin(to) {
		s.store.Mutate(target, func(n *domain.Node) { n.IsFavorite = false })
	}

	return err
}

func (s *Session) SetIgnored(ctx context.Context, to uint32, target uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_SetIgnoredNode{SetIgnoredNode: target},
	})
	if err == nil && s.isLocalAdmin(to) {
		s.store.Mutate(target, func(n *domain.Node) { n.IsIgnored = true })
		if s.writer != nil && s.ignored != nil {
			at := time.Now()
			s.writer.Enqueue("ignored.add", func(ctx context.Context) error {
				return s.ignored.Add(ctx, target, at)
			})
		}
	}

	return err
}

func (s *Session) RemoveIgnored(ctx context.Context, to uint32, target uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_RemoveIgnoredNode{RemoveIgnoredNode: target},
	})
	if err == nil && s.isLocalAdmin(to) {
		s.store.Mutate(target, func(n *domain.Node) { n.IsIgnored = false })
		if s.writer != nil && s.ignored != nil {
			s.writer.Enqueue("ignored.remove", func(ctx context.Context) error {
				return s.ignored.Remove(ctx, target)
			})
		}
	}

	return err
}

// RemoveByNodenum drops a node from the device node database and purges
// the local copy.
func (s *Session) RemoveByNodenum(ctx context.Context, to uint32, target uint32) error {
	_, err := s.sendAdmin(ctx, to, false, &meshtasticpb.AdminMessage{
		PayloadVariant: &meshtasticpb.AdminMessage_RemoveByNodenum{RemoveByNodenum: target},
	})
	if err == nil && s.isLocalAdmin(to) {
		s.store.Purge(target)
	}

	return err
}
