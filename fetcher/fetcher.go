package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/rs/zerolog"
)

type (
	// Credentials are sent as the User, Key and Secret headers.
	Credentials struct {
		User   string
		Key    string
		Secret string
	}

	Client struct {
		BaseURL     string
		Credentials Credentials
		HTTPClient  *http.Client
		// Now stamps the modifiedtime column, defaults to time.Now
		Now func() time.Time
	}

	ErrorKind string

	// Error is returned for every failed fetch. Nothing is retried.
	Error struct {
		Kind       ErrorKind
		URL        string
		StatusCode int
		Err        error
	}
)

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindDecode    ErrorKind = "decode"

	ModifiedTimeColumn = "modifiedtime"
	DefaultTimeout     = 30 * time.Second
)

var (
	ErrNotFlatMap       = errors.New("not a flat map")
	ErrNotJSONArray     = errors.New("response is not a JSON array of objects")
	ErrDuplicateKeyCase = errors.New("keys collide once lower-cased")
)

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error requesting %s: %s", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Credentials: creds,
		HTTPClient:  &http.Client{Timeout: timeout},
		Now:         time.Now,
	}
}

// URL joins the base URL, path and query.
func (c *Client) URL(path string, query url.Values) string {
	u := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Fetch issues one authenticated GET and turns the JSON array in the response
// body into a RecordSet. Column names are lower-cased and every row gets the same
// modifiedtime stamp.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (*recordset.RecordSet, error) {
	logger := zerolog.Ctx(ctx)
	reqURL := c.URL(path, query)

	logger.Info().Str("url", reqURL).Msg("sending request to provider API")
	s := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: reqURL, Err: err}
	}
	req.Header.Set("User", c.Credentials.User)
	req.Header.Set("Key", c.Credentials.Key)
	req.Header.Set("Secret", c.Credentials.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: reqURL, Err: fmt.Errorf("error reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &Error{Kind: KindStatus, URL: reqURL, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(snippet)))}
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, &Error{Kind: KindDecode, URL: reqURL, StatusCode: resp.StatusCode, Err: err}
	}

	now := c.Now()
	for _, row := range rows {
		row[ModifiedTimeColumn] = now
	}
	rs := recordset.FromMaps(rows)

	logger.Info().Int("rows", rs.Len()).Int("columns", len(rs.ColumnNames())).Dur("took", time.Since(s)).Msg("fetched record set from provider API")
	return rs, nil
}

// decodeRows parses a JSON array of objects, flattening nested objects and
// lower-casing keys. Arrays are kept as JSON text. Numbers stay json.Number so
// integers are kept apart from floats.
func decodeRows(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("error in json Decode: %w", err)
	}

	rows := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrNotJSONArray, i, item)
		}
		flat, err := gojsonutils.Flatten(encodeArrays(obj), nil)
		if err != nil {
			return nil, fmt.Errorf("error flattening element %d: %w", i, err)
		}
		flatMap, ok := flat.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d", ErrNotFlatMap, i)
		}

		row := make(map[string]any, len(flatMap)+1)
		for k, v := range flatMap {
			lk := strings.ToLower(k)
			if _, ok := row[lk]; ok {
				return nil, fmt.Errorf("%w: element %d key %q", ErrDuplicateKeyCase, i, lk)
			}
			row[lk] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// encodeArrays replaces every array below obj with its JSON text, so Flatten
// only ever walks objects.
func encodeArrays(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = encodeArrays(tv)
		case []any:
			var b bytes.Buffer
			enc := json.NewEncoder(&b)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(tv); err != nil {
				out[k] = fmt.Sprint(tv)
				continue
			}
			out[k] = strings.TrimSuffix(b.String(), "\n")
		default:
			out[k] = v
		}
	}
	return out
}
