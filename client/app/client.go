// Package app is a small interactive mining client used for manual
// testing against a running server.
package app

import (
	"context"
	"net"
	"time"

	campusmine "github.com/campusmine/campusmine"
	"github.com/campusmine/campusmine/logger"
	"github.com/campusmine/campusmine/protocol"
	"github.com/campusmine/campusmine/tcp"
	"github.com/campusmine/campusmine/websocket"
)

type Client struct {
	studentID string
	transport string
	conn      campusmine.Conn
	nextID    int
}

func NewClient(studentID, transport string) *Client {
	return &Client{studentID: studentID, transport: transport, nextID: 1}
}

func (c *Client) Connect(addr string) error {
	var (
		conn campusmine.Conn
		err  error
	)
	if c.transport == "tcp" {
		var raw net.Conn
		raw, err = net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			conn = tcp.NewConn(raw)
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err = websocket.Dial(ctx, "ws://"+addr)
	}
	if err != nil {
		return err
	}
	c.conn = conn
	return c.send("authorize", protocol.AuthorizeParams{StudentID: c.studentID})
}

// StartMining asks the server to open a session for the institution.
func (c *Client) StartMining(institutionID string) error {
	return c.send("start", protocol.StartParams{InstitutionID: institutionID})
}

// StopMining asks the server to finalize the session for the
// institution.
func (c *Client) StopMining(institutionID string) error {
	return c.send("stop", protocol.StopParams{InstitutionID: institutionID})
}

// RequestStatus asks for an immediate status push.
func (c *Client) RequestStatus() error {
	return c.send("status", struct{}{})
}

func (c *Client) send(method string, params any) error {
	id := c.nextID
	c.nextID++
	req := protocol.Request{ID: &id, Method: method}
	p, err := protocol.Encode(params)
	if err != nil {
		return err
	}
	req.Params = p
	data, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(campusmine.OpBinary, data)
}

// Run reads server frames and logs status pushes until the connection
// closes.
func (c *Client) Run() error {
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			return err
		}
		if frame.GetOpCode() != campusmine.OpBinary && frame.GetOpCode() != campusmine.OpText {
			continue
		}
		payload := frame.GetPayload()
		var req protocol.Request
		if err := protocol.Decode(payload, &req); err != nil {
			continue
		}
		if req.Method == "status" {
			var push protocol.StatusPush
			if err := protocol.Decode(req.Params, &push); err != nil {
				continue
			}
			for _, s := range push.ActiveSessions {
				logger.WithFields(logger.Fields{
					"module":          "client",
					"institution":     s.InstitutionID,
					"current_tokens":  s.CurrentTokens.String(),
					"remaining_hours": s.RemainingHours.StringFixed(2),
					"rate":            s.EarningRate.String(),
				}).Info("mining")
			}
			for _, w := range push.Wallets {
				logger.WithFields(logger.Fields{
					"module":      "client",
					"institution": w.InstitutionID,
					"balance":     w.Balance.String(),
					"total_mined": w.TotalMined.String(),
				}).Info("wallet")
			}
			continue
		}
		var resp protocol.Response
		if err := protocol.Decode(payload, &resp); err == nil && resp.ID != 0 {
			if !resp.Result && resp.Error != nil {
				logger.Warnf("request %d failed: %s", resp.ID, *resp.Error)
			} else {
				logger.WithFields(logger.Fields{"module": "client", "id": resp.ID}).Debug("request ok")
			}
		}
	}
}

func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.WriteFrame(campusmine.OpClose, nil)
		_ = c.conn.Close()
	}
}
