// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/roost-cluster/roost/lib/netutil"
	"github.com/roost-cluster/roost/lib/schema"
)

// controllerClient talks to the controller's control API on behalf of
// CLI commands.
type controllerClient struct {
	base   string
	client *http.Client
}

func newControllerClient(host string, port int) *controllerClient {
	return &controllerClient{
		base:   "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *controllerClient) Status(ctx context.Context) (schema.StatusReport, error) {
	var report schema.StatusReport
	err := c.get(ctx, "/api/v1/status", &report)
	return report, err
}

func (c *controllerClient) Command(ctx context.Context, workerID int, cmd schema.Command) (schema.CommandResult, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return schema.CommandResult{}, err
	}
	url := fmt.Sprintf("%s/api/v1/workers/%d/command", c.base, workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return schema.CommandResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return schema.CommandResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return schema.CommandResult{}, fmt.Errorf("%s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}

	var result schema.CommandResult
	if err := netutil.DecodeResponse(resp.Body, &result); err != nil {
		return schema.CommandResult{}, err
	}
	return result, nil
}

func (c *controllerClient) Remove(ctx context.Context, workerID int) error {
	url := fmt.Sprintf("%s/api/v1/workers/%d", c.base, workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}
	return nil
}

func (c *controllerClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}
	return netutil.DecodeResponse(resp.Body, v)
}
