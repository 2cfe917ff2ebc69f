package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// Record is a single V2 dataset as returned by a source.
type Record struct {
	Identifier  string
	DataCatalog string
	// Modified is date_modified, or date_created for never modified datasets.
	Modified string
	Raw      json.RawMessage
	// Err is set when the record could not be fetched.
	Err error
}

// ParseRecord reads the fields the migration needs from a V2 payload.
func ParseRecord(raw json.RawMessage) (Record, error) {
	var header struct {
		Identifier   string `json:"identifier"`
		DateCreated  string `json:"date_created"`
		DateModified string `json:"date_modified"`
		DataCatalog  *v2Ref `json:"data_catalog"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Record{}, err
	}

	rec := Record{Identifier: header.Identifier, Modified: header.DateModified, Raw: raw}
	if rec.Modified == "" {
		rec.Modified = header.DateCreated
	}
	if header.DataCatalog != nil {
		rec.DataCatalog = header.DataCatalog.Identifier
	}
	return rec, nil
}

// Handler receives what a source fetches.
type Handler interface {
	// Batch migrates one page of records. Sources stop and return the error
	// when it fails.
	Batch(ctx context.Context, records []Record) error
	// CatalogSkipped reports a catalog that could not be resolved.
	CatalogSkipped(catalog string, err error)
}

// Source fetches the records selected by opts.
type Source interface {
	Fetch(ctx context.Context, opts Options, h Handler) error
}

// FileSource reads a JSON array of V2 datasets from a local path, a
// gs://bucket/object or an s3://bucket/key location.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Fetch(ctx context.Context, opts Options, h Handler) error {
	data, err := f.read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	// A single object is not a list of datasets.
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.path, err)
	}

	identifiers := toSet(opts.Identifiers)
	catalogs := toSet(opts.Catalogs)
	var records []Record
	for _, raw := range items {
		rec, err := ParseRecord(raw)
		if err != nil {
			return fmt.Errorf("failed to parse dataset: %w", err)
		}
		if len(identifiers) > 0 && !identifiers[rec.Identifier] {
			continue
		}
		if len(catalogs) > 0 && !catalogs[rec.DataCatalog] {
			continue
		}
		records = append(records, rec)
	}

	size := opts.pageSize()
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := h.Batch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSource) read(ctx context.Context) ([]byte, error) {
	switch {
	case strings.HasPrefix(f.path, "gs://"):
		bucket, object, err := splitLocation(strings.TrimPrefix(f.path, "gs://"))
		if err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS client: %w", err)
		}
		defer client.Close()

		r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.HasPrefix(f.path, "s3://"):
		bucket, key, err := splitLocation(strings.TrimPrefix(f.path, "s3://"))
		if err != nil {
			return nil, err
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		out, err := s3.NewFromConfig(cfg).GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	default:
		return os.ReadFile(f.path)
	}
}

func splitLocation(location string) (string, string, error) {
	bucket, object, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid object location %q", location)
	}
	return bucket, object, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// HTTPSource reads datasets from the REST API of a V2 instance.
type HTTPSource struct {
	instance string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTPSource returns a source for instance. When creds is set, requests
// carry client credentials tokens.
func NewHTTPSource(ctx context.Context, instance string, creds *clientcredentials.Config, log *zap.Logger) *HTTPSource {
	client := http.DefaultClient
	if creds != nil {
		client = creds.Client(ctx)
	}
	return &HTTPSource{instance: strings.TrimRight(instance, "/"), client: client, log: log}
}

func (s *HTTPSource) Fetch(ctx context.Context, opts Options, h Handler) error {
	switch {
	case len(opts.Identifiers) > 0:
		for _, id := range opts.Identifiers {
			rec := Record{Identifier: id}
			raw, err := s.get(ctx, s.instance+"/rest/v2/datasets/"+url.PathEscape(id))
			if err == nil {
				rec, err = ParseRecord(raw)
			}
			if err != nil {
				rec = Record{Identifier: id, Err: err}
			}
			if err := h.Batch(ctx, []Record{rec}); err != nil {
				return err
			}
		}
		return nil
	case opts.All:
		return s.paginate(ctx, fmt.Sprintf("%s/rest/v2/datasets?limit=%d&include_legacy=true", s.instance, opts.pageSize()), h)
	default:
		for _, catalog := range opts.Catalogs {
			resolved, err := s.resolveCatalog(ctx, catalog)
			if err != nil {
				h.CatalogSkipped(catalog, err)
				continue
			}
			s.log.Info("Migrating catalog", zap.String("catalog", resolved))

			query := url.Values{}
			query.Set("data_catalog", resolved)
			query.Set("limit", fmt.Sprint(opts.pageSize()))
			query.Set("include_legacy", "true")
			if err := s.paginate(ctx, s.instance+"/rest/v2/datasets?"+query.Encode(), h); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *HTTPSource) resolveCatalog(ctx context.Context, catalog string) (string, error) {
	raw, err := s.get(ctx, s.instance+"/rest/datacatalogs/"+url.PathEscape(catalog))
	if err != nil {
		return "", err
	}
	var body struct {
		CatalogJSON struct {
			Identifier string `json:"identifier"`
		} `json:"catalog_json"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", err
	}
	if body.CatalogJSON.Identifier == "" {
		return "", fmt.Errorf("catalog %s has no identifier", catalog)
	}
	return body.CatalogJSON.Identifier, nil
}

func (s *HTTPSource) paginate(ctx context.Context, next string, h Handler) error {
	for next != "" {
		raw, err := s.get(ctx, next)
		if err != nil {
			return err
		}
		var page struct {
			Results []json.RawMessage `json:"results"`
			Next    *string           `json:"next"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("failed to parse page %s: %w", next, err)
		}

		records := make([]Record, 0, len(page.Results))
		for _, item := range page.Results {
			rec, err := ParseRecord(item)
			if err != nil {
				return fmt.Errorf("failed to parse dataset: %w", err)
			}
			records = append(records, rec)
		}
		if err := h.Batch(ctx, records); err != nil {
			return err
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return nil
}

func (s *HTTPSource) get(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	return body, nil
}
