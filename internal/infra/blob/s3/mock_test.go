package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// newMockStore returns a Store whose SDK client talks to an in-memory
// fake transport. Only the operations the archive Store issues are
// handled.
func newMockStore() *Store {
	transport := &fakeBucket{objects: make(map[string]fakeObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("TESTKEY", "TESTSECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: transport}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.mock.invalid")
	})
	return &Store{client: client, bucket: "archives"}
}

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Path style: /<bucket>/<key...>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return b.handleList(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		if obj, ok := b.objects[key]; ok {
			return respond(http.StatusOK, nil, objHeaders(obj)), nil
		}
		return respond(http.StatusNotFound, nil, http.Header{}), nil
	case http.MethodGet:
		if obj, ok := b.objects[key]; ok {
			return respond(http.StatusOK, obj.data, objHeaders(obj)), nil
		}
		return respond(http.StatusNotFound, nil, http.Header{}), nil
	case http.MethodPut:
		raw, _ := io.ReadAll(req.Body)
		if _, exists := b.objects[key]; !exists {
			b.objects[key] = fakeObject{
				data:        unchunk(raw),
				contentType: req.Header.Get("Content-Type"),
				metadata:    metaHeaders(req.Header),
			}
		}
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"mock-etag"`}}), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (b *fakeBucket) handleList(prefix string) *http.Response {
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&body, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(b.objects[k].data))
	}
	body.WriteString(`</ListBucketResult>`)
	return respond(http.StatusOK, []byte(body.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objHeaders(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.data))},
		"ETag":           {`"mock-etag"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func metaHeaders(h http.Header) map[string]string {
	md := make(map[string]string)
	for name, vals := range h {
		if rest, ok := strings.CutPrefix(name, "X-Amz-Meta-"); ok && len(vals) > 0 {
			md[strings.ToLower(rest)] = vals[0]
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// unchunk strips the aws-chunked framing the SDK applies to streamed
// uploads: "<hexsize>[;ext]\r\n<data>\r\n..." with a terminal zero chunk.
// Unframed bodies pass through untouched.
func unchunk(body []byte) []byte {
	i := bytes.Index(body, []byte("\r\n"))
	if i < 0 {
		return body
	}
	size := string(body[:i])
	if j := strings.IndexByte(size, ';'); j >= 0 {
		size = size[:j]
	}
	n, err := strconv.ParseInt(size, 16, 64)
	if err != nil || n <= 0 || int64(len(body)) < int64(i+2)+n {
		return body
	}
	return body[i+2 : int64(i+2)+n]
}

func respond(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     header,
	}
}
