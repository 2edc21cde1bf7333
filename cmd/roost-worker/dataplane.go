// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/roost-cluster/roost/lib/codec"
	"github.com/roost-cluster/roost/lib/infer"
	"github.com/roost-cluster/roost/lib/tensor"
)

// serveData accepts data-plane connections until ctx is done. Each
// connection carries a stream of length-prefixed frames: a CBOR
// inference request in, a CBOR response out. Request failures produce
// a response frame with the error set; only framing-level corruption
// drops the connection.
func (w *worker) serveData(ctx context.Context, listener net.Listener) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("data plane accept failed", "error", err)
			continue
		}
		go w.handleDataConn(ctx, conn)
	}
}

func (w *worker) handleDataConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	w.logger.Info("data connection opened", "remote", remote)

	for {
		payload, err := tensor.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.Warn("data connection read failed", "remote", remote, "error", err)
			}
			return
		}

		response := w.handleDataRequest(ctx, payload)
		encoded, err := codec.Marshal(response)
		if err != nil {
			w.logger.Error("encoding data response", "error", err)
			return
		}
		if err := tensor.WriteFrame(conn, encoded, tensor.CompressionLZ4); err != nil {
			w.logger.Warn("data connection write failed", "remote", remote, "error", err)
			return
		}
	}
}

func (w *worker) handleDataRequest(ctx context.Context, payload []byte) infer.Response {
	var request infer.Request
	if err := codec.Unmarshal(payload, &request); err != nil {
		return infer.Response{Error: "decoding request: " + err.Error()}
	}

	session := w.currentSession()
	if session == nil {
		return infer.Response{Error: "no model loaded"}
	}

	response, err := session.HandleRequest(ctx, request)
	if err != nil {
		return infer.Response{Error: err.Error()}
	}
	return response
}
