package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

type apiError struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (e apiError) Error() string {
	if len(e.Metadata) > 0 {
		return fmt.Sprintf("%s: %s %v", e.Name, e.Message, e.Metadata)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

type client struct {
	url     string
	caller  string
	timeout time.Duration
}

func newClient(ctx *cli.Context) *client {
	return &client{
		url:     strings.TrimSuffix(ctx.String(urlFlagName), "/"),
		caller:  ctx.String(callerFlagName),
		timeout: ctx.Duration(timeoutFlagName),
	}
}

func get[T any](c *client, path string) (result T, err error) {
	return do[T](c, http.MethodGet, path, nil)
}

func post[T any](c *client, path string, body any) (result T, err error) {
	return do[T](c, http.MethodPost, path, body)
}

func do[T any](c *client, method, path string, body any) (result T, err error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return result, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")
	if len(c.caller) > 0 {
		req.Header.Add("X-Caller", c.caller)
	}

	httpClient := &http.Client{Timeout: c.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if jsonErr := json.Unmarshal(buf, &apiErr); jsonErr != nil || apiErr.Name == "" {
			err = fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(buf))
			return
		}
		err = apiErr
		return
	}

	err = json.Unmarshal(buf, &result)
	return
}

func printJSON(resp any) error {
	buf, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}

// printResponse is the Action body of every read-only command.
func printResponse(path func(ctx *cli.Context) string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		resp, err := get[json.RawMessage](newClient(ctx), path(ctx))
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
}

func postAndPrint(ctx *cli.Context, path string, body any) error {
	resp, err := post[json.RawMessage](newClient(ctx), path, body)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
