package lnaddress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// httpResponse carries the registrar's reply out of the breaker. Non-2xx
// statuses are returned here instead of as errors so that expected replies
// like username conflicts don't count as upstream failures.
type httpResponse struct {
	status int
	body   []byte
}

type httpClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newHTTPClient(client *http.Client, timeout time.Duration) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "lnaddress registrar",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf(
				"%s breaker changed state from %s to %s",
				name, from.String(), to.String(),
			)
		},
	})
	return &httpClient{client, breaker}
}

func (c *httpClient) do(
	ctx context.Context, method, url string, payload interface{},
) (*httpResponse, error) {
	var buf []byte
	if payload != nil {
		var err error
		if buf, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if buf != nil {
			body = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &httpResponse{resp.StatusCode, respBody}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*httpResponse), nil
}
