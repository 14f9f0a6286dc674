package storage

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindMemory     Kind = "memory"
	KindFilesystem Kind = "filesystem"
	KindS3         Kind = "s3"
	KindURL        Kind = "url"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindFilesystem, KindS3, KindURL:
		return k, nil
	default:
		return "", fmt.Errorf("unknown storage type %q: %w", s, ErrInput)
	}
}

// Location identifies an artifact. It is a comparable value and is used
// directly as a cache key, so two Locations naming the same artifact must be
// equal field by field; see Normalize.
type Location struct {
	Kind   Kind   `json:"storage_type"`
	Bucket string `json:"bucket_name,omitempty"` // s3 only
	Key    string `json:"key"`
}

// Normalize drops the bucket for kinds that ignore it.
func (l Location) Normalize() Location {
	if l.Kind != KindS3 {
		l.Bucket = ""
	}
	return l
}

func (l Location) Validate() error {
	if _, err := ParseKind(string(l.Kind)); err != nil {
		return err
	}
	if l.Key == "" {
		return fmt.Errorf("location %s: empty key: %w", l.Kind, ErrInput)
	}
	if l.Kind == KindS3 && l.Bucket == "" {
		return fmt.Errorf("location %s: bucket is required: %w", l.Kind, ErrConfiguration)
	}
	return nil
}

// String renders the location in the form accepted by ParseLocation.
func (l Location) String() string {
	switch l.Kind {
	case KindMemory:
		return "mem://" + l.Key
	case KindS3:
		return "s3://" + l.Bucket + "/" + l.Key
	case KindFilesystem:
		return "file://" + l.Key
	default:
		return l.Key
	}
}

// ParseLocation parses a location descriptor:
//
//	mem://features/1.json        memory
//	s3://bucket/path/to/key      s3
//	file:///data/img.jpg         filesystem
//	/data/img.jpg, ./img.jpg     filesystem
//	http(s)://host/img.jpg       url
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("empty location: %w", ErrInput)
	}

	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		return Location{Kind: KindFilesystem, Key: filepath.Clean(s)}, nil
	}

	switch strings.ToLower(scheme) {
	case "mem", "memory":
		if rest == "" {
			return Location{}, fmt.Errorf("location %q: empty key: %w", s, ErrInput)
		}
		return Location{Kind: KindMemory, Key: rest}, nil

	case "s3":
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("location %q: expected s3://bucket/key: %w", s, ErrInput)
		}
		return Location{Kind: KindS3, Bucket: bucket, Key: key}, nil

	case "file":
		if rest == "" {
			return Location{}, fmt.Errorf("location %q: empty path: %w", s, ErrInput)
		}
		return Location{Kind: KindFilesystem, Key: filepath.Clean(rest)}, nil

	case "http", "https":
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return Location{}, fmt.Errorf("location %q: malformed url: %w", s, ErrInput)
		}
		return Location{Kind: KindURL, Key: s}, nil

	default:
		return Location{}, fmt.Errorf("location %q: unknown scheme %q: %w", s, scheme, ErrInput)
	}
}
