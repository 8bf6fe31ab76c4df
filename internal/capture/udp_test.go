package capture

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Koot5958/translation-live/internal/audio"
	"github.com/Koot5958/translation-live/internal/protocol"
)

// constantPCM returns n samples of value v as PCM16.
func constantPCM(n int, v float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.FloatToPCM16(samples)
}

func startUDPSource(t *testing.T) (*UDPSource, *collectSink, net.Conn) {
	t.Helper()

	src, err := NewUDPSource(UDPConfig{BindAddress: "127.0.0.1", Port: 0, SampleRate: 16000, MaxGap: 4}, nil, nil)
	if err != nil {
		t.Fatalf("NewUDPSource failed: %v", err)
	}
	if err := src.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	conn, err := net.Dial("udp", src.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(time.Second):
			t.Error("Run did not stop after cancel")
		}
	})
	return src, sink, conn
}

func send(t *testing.T, conn net.Conn, packet []byte) {
	t.Helper()
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestUDPSourceReordersStream(t *testing.T) {
	src, sink, conn := startUDPSource(t)

	send(t, conn, protocol.MarshalControl(7, protocol.CommandStart, 16000))

	// 10 ms packets, values encode the sequence number
	order := []uint32{1, 3, 2, 4}
	for _, seq := range order {
		var flags uint8
		if seq == 4 {
			flags = protocol.FlagEndOfStream
		}
		packet, err := protocol.MarshalAudio(7, seq, flags, constantPCM(160, float32(seq)/10))
		if err != nil {
			t.Fatalf("MarshalAudio failed: %v", err)
		}
		send(t, conn, packet)
	}

	waitFor(t, "four packets of audio", func() bool { return sink.total() == 4*160 })

	for i, chunk := range sink.snapshot() {
		want := float32(i+1) / 10
		if d := chunk[0] - want; d > 0.001 || d < -0.001 {
			t.Errorf("Chunk %d starts with %f, want %f", i, chunk[0], want)
		}
	}

	waitFor(t, "stream to end", func() bool { return src.GetStatistics().ActiveStreams == 0 })
	stats := src.GetStatistics()
	if stats.PacketsProcessed != 5 || stats.LostPackets != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestUDPSourceResamplesAndCountsErrors(t *testing.T) {
	src, sink, conn := startUDPSource(t)

	send(t, conn, []byte{0xFF, 0x00, 0x01})
	send(t, conn, protocol.MarshalControl(9, protocol.CommandStart, 8000))
	packet, _ := protocol.MarshalAudio(9, 0, 0, constantPCM(800, 0.5))
	send(t, conn, packet)

	waitFor(t, "resampled audio", func() bool { return sink.total() == 1600 })
	waitFor(t, "parse error", func() bool { return src.GetStatistics().ParseErrors == 1 })

	send(t, conn, protocol.MarshalControl(9, protocol.CommandStop, 0))
	waitFor(t, "stream to stop", func() bool { return src.GetStatistics().ActiveStreams == 0 })
}
