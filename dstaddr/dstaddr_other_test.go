//go:build !linux

package dstaddr_test

import (
	"net"
	"testing"

	"github.com/morpheus-med/mongoproxy/dstaddr"
)

func TestOrigDstUnsupportedPlatform(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := dstaddr.OrigDst(conn.(*net.TCPConn)); err == nil {
		t.Fatal("expected error on unsupported platform")
	}
}
