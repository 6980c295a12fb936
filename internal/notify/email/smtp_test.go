package email

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSMTP accepts one session without STARTTLS or AUTH and records the DATA payload.
func fakeSMTP(t *testing.T) (addr string, data func() string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var mu sync.Mutex
	var payload strings.Builder
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { conn.Write([]byte(s + "\r\n")) }
		write("220 localhost ESMTP")
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					write("250 OK")
					continue
				}
				mu.Lock()
				payload.WriteString(line)
				mu.Unlock()
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				inData = true
				write("354 go ahead")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()
	return ln.Addr().String(), func() string {
		mu.Lock()
		defer mu.Unlock()
		return payload.String()
	}
}

func TestSend_DeliversMessage(t *testing.T) {
	addr, data := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	s := NewSMTPSender(host, port, "", "", "noreply@medconnect.test", 2*time.Second)
	if err := s.Send(context.Background(), "doc@example.com", "Reset\nInjected: x", "Code: 123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := data()
	if !strings.Contains(got, "To: doc@example.com") {
		t.Errorf("payload missing To header: %q", got)
	}
	if !strings.Contains(got, "Subject: Reset Injected: x") {
		t.Errorf("subject newline not sanitized: %q", got)
	}
	if !strings.Contains(got, "Code: 123456") {
		t.Errorf("payload missing body: %q", got)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	s := NewSMTPSender("", 0, "", "", "", 0)
	if err := s.Send(context.Background(), "a@b.c", "s", "b"); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSend_UnreachableHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	s := NewSMTPSender("127.0.0.1", addr.Port, "", "", "noreply@medconnect.test", 500*time.Millisecond)
	if err := s.Send(context.Background(), "a@b.c", "s", "b"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNewSMTPSender_Defaults(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 0, "", "", "from@example.com", 0)
	if s.Port != 587 {
		t.Errorf("Port = %d, want 587", s.Port)
	}
	if s.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", s.Timeout)
	}
}
