package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/avaproxy/internal/client"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
)

type fetchOptions struct {
	method  string
	headers []string
	params  []string
	data    string
	parse   bool
	output  string
	count   int
	region  string
}

// fetchResult is the JSON form of one response.
type fetchResult struct {
	Status     int      `json:"status"`
	Region     string   `json:"region"`
	EndpointID string   `json:"endpointID"`
	DurationMS int64    `json:"durationMs"`
	Title      string   `json:"title,omitempty"`
	Links      []string `json:"links,omitempty"`
	Body       string   `json:"body,omitempty"`
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch [path]",
		Short: "Send requests to the base URL through the gateway pool",
		Long: `Fetch provisions the gateway pool, sends --count requests for path (relative
to the base URL) rotating across the gateways, prints every response and
tears the pool down again unless --reuse is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			return runFetch(cmd, root, opts, path)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `Request header "Key: Value" (repeatable)`)
	f.StringArrayVarP(&opts.params, "param", "p", nil, "Query parameter key=value (repeatable)")
	f.StringVarP(&opts.data, "data", "d", "", "Request body")
	f.BoolVar(&opts.parse, "parse", false, "Parse the body as HTML and print its title and links")
	f.StringVarP(&opts.output, "output", "o", outputText, "Output format (text, json)")
	f.IntVarP(&opts.count, "count", "n", 1, "Number of requests to send")
	f.StringVar(&opts.region, "region", "", "Send every request through gateways of this region")

	return cmd
}

func runFetch(cmd *cobra.Command, root *rootOptions, opts *fetchOptions, path string) error {
	if opts.output != outputText && opts.output != outputJSON {
		return fmt.Errorf("unsupported output format: %s", opts.output)
	}
	if opts.count < 1 {
		return errors.New("--count must be at least 1")
	}

	header := make(http.Header)
	for _, h := range opts.headers {
		k, v, err := parseHeader(h)
		if err != nil {
			return err
		}
		header.Add(k, v)
	}
	params := make(url.Values)
	for _, p := range opts.params {
		k, v, err := parseParam(p)
		if err != nil {
			return err
		}
		params.Add(k, v)
	}

	rt, err := root.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	c, err := rt.newClient()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(root.out)
	enc.SetIndent("", "  ")

	return c.Use(cmd.Context(), func(ctx context.Context, c *client.Client) error {
		for range opts.count {
			reqOpts := &client.RequestOptions{
				Params:    params,
				Header:    header,
				ParseBody: opts.parse,
				Region:    gateway.Region(opts.region),
			}
			if opts.data != "" {
				reqOpts.Body = strings.NewReader(opts.data)
			}

			resp, err := c.Request(ctx, opts.method, path, reqOpts)
			if err != nil {
				return err
			}
			rt.logger.Debug("response received",
				observability.Int("status", resp.StatusCode),
				observability.String(observability.FieldEndpointID, resp.Endpoint.ID),
			)

			res := toResult(resp, opts.parse)
			if opts.output == outputJSON {
				if err := enc.Encode(res); err != nil {
					return err
				}
				continue
			}
			printResult(root, res, opts.parse)
		}
		return nil
	})
}

func toResult(resp *client.Response, parsed bool) fetchResult {
	res := fetchResult{
		Status:     resp.StatusCode,
		Region:     string(resp.Endpoint.Region),
		EndpointID: resp.Endpoint.ID,
		DurationMS: resp.Duration.Milliseconds(),
	}
	if parsed && resp.Document != nil {
		res.Title = resp.Document.Title()
		res.Links = resp.Document.Links()
		return res
	}
	res.Body = string(resp.Body)
	return res
}

func printResult(root *rootOptions, res fetchResult, parsed bool) {
	fmt.Fprintf(root.out, "%d %s/%s %dms\n", res.Status, res.Region, res.EndpointID, res.DurationMS)
	if !parsed {
		fmt.Fprintln(root.out, res.Body)
		return
	}
	fmt.Fprintf(root.out, "title: %s\n", res.Title)
	for _, l := range res.Links {
		fmt.Fprintf(root.out, "  %s\n", l)
	}
}
