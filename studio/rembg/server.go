package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	nhttp "github.com/chaos-io/studio2webp/util/http"
)

const (
	DefaultServerURL = "http://localhost:7000"
	removePath       = "/api/remove"
)

// Server segments through a rembg HTTP server ("rembg s").
type Server struct {
	baseURL string
	model   string
	cli     nhttp.IClient

	// Timeout bounds a single request; zero keeps the client default.
	Timeout time.Duration
}

func NewServer(baseURL, model string) *Server {
	return NewServerWithClient(baseURL, model, nhttp.NewHTTPClient())
}

func NewServerWithClient(baseURL, model string, cli nhttp.IClient) *Server {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Server{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		cli:     cli,
	}
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@cup.jpg" \
	  -F "a=true" -F "af=240" -F "ab=10" -F "ae=10" \
	  -o cup.png
*/
func (s *Server) Segment(ctx context.Context, raw []byte, cfg MattingConfig) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, errEmptyImage
	}

	body, contentType, err := s.form(raw, cfg)
	if err != nil {
		return nil, err
	}

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.baseURL + removePath,
		Method:     http.MethodPost,
		Header: map[string]string{
			"Content-Type": contentType,
			"Accept":       "image/png",
		},
		Body:     body,
		Response: &out,
		Timeout:  s.Timeout,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("rembg server: %w", err)
	}

	slog.Debug("get the response", "bytes", len(out))

	matted, err := decode(out)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return matted, nil
}

func (s *Server) form(raw []byte, cfg MattingConfig) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}

	fields := map[string]string{
		"a":  strconv.FormatBool(cfg.AlphaMatting),
		"af": strconv.Itoa(int(cfg.ForegroundThreshold)),
		"ab": strconv.Itoa(int(cfg.BackgroundThreshold)),
		"ae": strconv.Itoa(cfg.ErodeSize),
	}
	if s.model != "" {
		fields["model"] = s.model
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}
