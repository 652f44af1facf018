package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type userPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Location string `json:"location"`
}

type postPayload struct {
	// UserID is a number for unprefixed pools, like the feed service expects,
	// and a string otherwise.
	UserID  any    `json:"userId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (d *Driver) templateData(u *user, userID string) TemplateData {
	return TemplateData{
		UserID: userID,
		UUID:   uuid.New().String(),
		Region: d.target.Region,
		VU:     u.id + 1,
		Iter:   u.iter,
	}
}

func (d *Driver) userPayload(data TemplateData) ([]byte, error) {
	var p userPayload
	var err error
	if p.Name, err = d.templates.field("name", data); err != nil {
		return nil, err
	}
	if p.Email, err = d.templates.field("email", data); err != nil {
		return nil, err
	}
	if p.Location, err = d.templates.field("location", data); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func (d *Driver) postPayload(data TemplateData, owner int) ([]byte, error) {
	p := postPayload{UserID: owner}
	if d.cfg.IDPool.Prefix != "" {
		p.UserID = d.cfg.IDPool.format(owner)
	}
	data.UserID = d.cfg.IDPool.format(owner)

	var err error
	if p.Title, err = d.templates.field("title", data); err != nil {
		return nil, err
	}
	if p.Content, err = d.templates.field("content", data); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// do sends one request and records its outcome. The request is bounded by the
// configured timeout but is not cancelled when the run ends.
func (d *Driver) do(ctx context.Context, u *user, endpoint, method, userID string, body []byte) RequestOutcome {
	data := d.templateData(u, userID)
	path, err := d.templates.endpoint(endpoint, data)
	if err != nil {
		return d.failed(u, endpoint, method, "", err)
	}
	target := strings.TrimSuffix(d.target.BaseURL, "/") + path

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return d.failed(u, endpoint, method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "feedload/"+d.target.Region)
	req.Header.Set("X-Region", d.target.Region)
	req.Header.Set("X-Request-ID", data.UUID)
	for k, v := range d.target.Headers {
		req.Header.Set(k, v)
	}

	atomic.AddInt64(&d.inflight, 1)
	defer atomic.AddInt64(&d.inflight, -1)

	start := time.Now()
	resp, err := d.client.Do(req)

	out := d.outcome(u, endpoint, method, target)
	out.Timestamp = start

	var payload []byte
	if err != nil {
		out.Err = err.Error()
	} else {
		out.Status = resp.StatusCode
		payload, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		out.Bytes = int64(len(payload))

		if err != nil {
			out.Err = err.Error()
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			out.Success = true
		}
	}
	out.Latency = time.Since(start)
	out.Checks = evaluate(d.checks, Response{Outcome: out, Body: payload})

	u.out.Record(out)
	return out
}

// failed records an outcome for a request that could not be built.
func (d *Driver) failed(u *user, endpoint, method, target string, err error) RequestOutcome {
	out := d.outcome(u, endpoint, method, target)
	out.Timestamp = time.Now()
	out.Err = err.Error()
	out.Checks = evaluate(d.checks, Response{Outcome: out})

	u.out.Record(out)
	return out
}

func (d *Driver) outcome(u *user, endpoint, method, target string) RequestOutcome {
	return RequestOutcome{
		Endpoint:  endpoint,
		Method:    method,
		URL:       target,
		Region:    d.target.Region,
		VU:        u.id + 1,
		Iteration: u.iter,
	}
}
