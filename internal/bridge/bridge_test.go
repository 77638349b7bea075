package bridge

import (
	"bufio"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CK6170/Vitals-go/weight"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func connect(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var hello weight.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if hello.Type != "status" || hello.Msg != "connected" {
		t.Fatalf("greeting mismatch: %+v", hello)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func next(t *testing.T, conn *websocket.Conn) weight.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, ok := weight.Decode(raw)
	if !ok {
		t.Fatalf("undecodable frame: %s", raw)
	}
	return m
}

func TestBridgeLiveStableAndReset(t *testing.T) {
	b := New(nil, quietLog())
	conn := connect(t, b)

	t0 := time.Unix(1_700_000_000, 0)
	b.Ingest(t0, 200) // outside sanity range, dropped
	b.Ingest(t0, 62.28)
	b.Ingest(t0.Add(time.Second), 62.31)
	b.Ingest(t0.Add(2*time.Second), 62.32)
	b.Ingest(t0.Add(3*time.Second), 62.30)

	want := []weight.Message{
		{Kg: 62.28},
		{Kg: 62.31},
		{Kg: 62.32},
		{Kg: 62.30, Stable: true},
		{Kg: 62.30},
	}
	for i, w := range want {
		if got := next(t, conn); got != w {
			t.Fatalf("message %d mismatch: got=%+v want=%+v", i, got, w)
		}
	}

	if b.Tick(t0.Add(10 * time.Second)) {
		t.Fatalf("reset before idle timeout")
	}
	if !b.Tick(t0.Add(30 * time.Second)) {
		t.Fatalf("expected idle reset")
	}
	if got := next(t, conn); !got.Reset {
		t.Fatalf("expected reset push, got %+v", got)
	}

	// New cycle: stable is reported again.
	t1 := t0.Add(40 * time.Second)
	for i := 0; i < 3; i++ {
		b.Ingest(t1, 80)
	}
	var stable int
	for i := 0; i < 4; i++ {
		if next(t, conn).Stable {
			stable++
		}
	}
	if stable != 1 {
		t.Fatalf("expected one stable push in the new cycle, got %d", stable)
	}
}

func TestBridgeIngestExpiresStaleCycle(t *testing.T) {
	b := New(nil, quietLog())
	conn := connect(t, b)

	t0 := time.Unix(1_700_000_000, 0)
	b.Ingest(t0, 70)
	_ = next(t, conn)

	b.Ingest(t0.Add(time.Minute), 71)
	if got := next(t, conn); !got.Reset {
		t.Fatalf("expected reset before the new sample, got %+v", got)
	}
	if got := next(t, conn); got.Kg != 71 {
		t.Fatalf("live mismatch: %+v", got)
	}
}

func TestBridgeRunParsesScaleLines(t *testing.T) {
	b := New(nil, quietLog())
	conn := connect(t, b)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, pr) }()

	w := bufio.NewWriter(pw)
	_, _ = w.WriteString("ST,GS,+  62.30kg\r\n\r\ngarbage\rUS,GS,62300 g\r\nST,GS,+  62.30kg\r")
	go func() { _ = w.Flush() }()

	var got []weight.Message
	for i := 0; i < 4; i++ {
		got = append(got, next(t, conn))
	}
	if !got[3].Stable || got[3].Kg != 62.30 {
		t.Fatalf("expected stable 62.30, got %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestScanLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\r\nb\rc\nd"))
	sc.Split(scanLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Fatalf("split mismatch: %q", got)
	}
}
