package channelurl

import (
	"strings"
	"testing"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

func sampleSet() *meshtasticpb.ChannelSet {
	return &meshtasticpb.ChannelSet{
		Settings: []*meshtasticpb.ChannelSettings{
			{Name: "LongFast", Psk: []byte{1}},
			{Name: "ops", Psk: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
		LoraConfig: &meshtasticpb.Config_LoRaConfig{
			UsePreset:   true,
			ModemPreset: meshtasticpb.Config_LoRaConfig_LONG_FAST,
			Region:      meshtasticpb.Config_LoRaConfig_EU_868,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	url, err := Encode(sampleSet())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(url, "#") {
		t.Fatalf("encoded url %q missing fragment marker", url)
	}
	if strings.ContainsAny(url, "+/=") {
		t.Fatalf("encoded url %q is not url-safe base64", url)
	}

	set, err := Decode(url)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.GetSettings()) != 2 {
		t.Fatalf("decoded %d channels, want 2", len(set.GetSettings()))
	}
	if got := set.GetSettings()[0].GetName(); got != "LongFast" {
		t.Fatalf("first channel name = %q", got)
	}
	if set.GetLoraConfig().GetRegion() != meshtasticpb.Config_LoRaConfig_EU_868 {
		t.Fatalf("lora region lost in round trip")
	}
}

func TestDecodeAcceptsFullURLAndBarePayload(t *testing.T) {
	fragment, err := Encode(sampleSet())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload := strings.TrimPrefix(fragment, "#?")

	for _, raw := range []string{
		"https://meshtastic.org/e/" + fragment,
		"https://meshtastic.org/e/#" + payload,
		fragment,
		payload,
		payload + "==",
	} {
		set, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if len(set.GetSettings()) != 2 {
			t.Fatalf("decode %q: got %d channels", raw, len(set.GetSettings()))
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "#?", "https://example.org/#", "#?!!!not-base64!!!"} {
		if _, err := Decode(raw); err == nil {
			t.Fatalf("decode %q succeeded, want error", raw)
		}
	}
}

func TestEncodeRejectsEmptySet(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatalf("encode nil set succeeded")
	}
	if _, err := Encode(&meshtasticpb.ChannelSet{}); err == nil {
		t.Fatalf("encode empty set succeeded")
	}
}
