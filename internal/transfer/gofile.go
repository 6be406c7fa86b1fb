package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"strings"
)

const gofileAPI = "https://api.gofile.io"

// GofileError is a response whose status field was not "ok".
type GofileError struct {
	Stage  string
	Status string
}

func (e *GofileError) Error() string {
	return fmt.Sprintf("gofile %s failed: status %q", e.Stage, e.Status)
}

type GofileClient struct {
	APIURL string
	Token  string

	// UploadURL maps a server name to its upload endpoint.
	UploadURL func(server string) string

	client *http.Client
	pick   func(n int) int
}

func NewGofileClient(token string) *GofileClient {
	return &GofileClient{
		APIURL: gofileAPI,
		Token:  token,
		UploadURL: func(server string) string {
			return "https://" + server + ".gofile.io/uploadFile"
		},
		client: &http.Client{},
		pick:   rand.IntN,
	}
}

type gofileServers struct {
	Status string `json:"status"`
	Data   struct {
		Servers []struct {
			Name string `json:"name"`
			Zone string `json:"zone"`
		} `json:"servers"`
	} `json:"data"`
}

type gofileUpload struct {
	Status string `json:"status"`
	Data   struct {
		DownloadPage string `json:"downloadPage"`
	} `json:"data"`
}

// Upload streams body to a randomly chosen GoFile server and returns the
// download page link. There are no retries.
func (g *GofileClient) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	server, err := g.server(ctx)
	if err != nil {
		return "", err
	}
	endpoint := g.UploadURL(server)
	log.Printf("[GoFile] Uploading %s to %s", name, server)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeGofileForm(mw, g.Token, name, body))
	}()

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	defer pr.Close()
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("gofile upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	var up gofileUpload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("failed to parse gofile response: %w", err)
	}
	if up.Status != "ok" {
		return "", &GofileError{Stage: "upload", Status: up.Status}
	}
	return up.Data.DownloadPage, nil
}

func (g *GofileClient) server(ctx context.Context) (string, error) {
	endpoint := strings.TrimRight(g.APIURL, "/") + "/servers"
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gofile servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	var sv gofileServers
	if err := json.NewDecoder(resp.Body).Decode(&sv); err != nil {
		return "", fmt.Errorf("failed to parse gofile servers: %w", err)
	}
	if sv.Status != "ok" {
		return "", &GofileError{Stage: "servers", Status: sv.Status}
	}
	if len(sv.Data.Servers) == 0 {
		return "", &GofileError{Stage: "servers", Status: "no servers"}
	}
	return sv.Data.Servers[g.pick(len(sv.Data.Servers))].Name, nil
}

func writeGofileForm(mw *multipart.Writer, token, name string, body io.Reader) error {
	if token != "" {
		if err := mw.WriteField("token", token); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}
