package sfu

import "testing"

func TestCapabilitiesSupports(t *testing.T) {
	caps := RTPCapabilities{Codecs: []CodecCapability{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
	}}

	if !caps.Supports("audio/opus") {
		t.Error("expected audio/opus to be supported")
	}
	if !caps.Supports("video/vp8") {
		t.Error("mime type matching should be case-insensitive")
	}
	if caps.Supports("video/H264") {
		t.Error("unexpected support for video/H264")
	}
	if (RTPCapabilities{}).Supports("audio/opus") {
		t.Error("empty capability set supports nothing")
	}
}
