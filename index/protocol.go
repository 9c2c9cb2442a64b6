package index

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
)

// Mode selects how the package index is queried.
type Mode string

const (
	// ModeJSON requests the package-detail endpoint and reads
	// Properties.version from a JSON body.
	ModeJSON Mode = "json"
	// ModeFeed runs an OData feed query filtered by package id and reads the
	// first dataservices Version element.
	ModeFeed Mode = "feed"
)

// DataServicesNamespace is the XML namespace of OData property elements.
const DataServicesNamespace = "http://schemas.microsoft.com/ado/2007/08/dataservices"

// Extractor pulls a version string out of a package index response body.
type Extractor interface {
	ExtractVersion(body []byte) (string, error)
}

// Protocol is one way of asking the index for a package version: where to
// send the request and how to read the answer.
type Protocol interface {
	Extractor
	Mode() Mode
	RequestURL(baseURL, name string) string
	Accept() string
}

// ParseMode validates a mode name. An empty value selects ModeJSON.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeJSON, "":
		return ModeJSON, nil
	case ModeFeed:
		return ModeFeed, nil
	default:
		return "", fmt.Errorf("index: unsupported mode %q (use json or feed)", value)
	}
}

// ProtocolFor returns the protocol implementing mode.
func ProtocolFor(mode Mode) (Protocol, error) {
	switch mode {
	case ModeJSON, "":
		return PackageDetailProtocol{}, nil
	case ModeFeed:
		return FeedQueryProtocol{}, nil
	default:
		return nil, fmt.Errorf("index: unsupported mode %q", mode)
	}
}

// PackageDetailProtocol queries GET {base}/api/v2/package/{name}.
type PackageDetailProtocol struct{}

var _ Protocol = PackageDetailProtocol{}

func (PackageDetailProtocol) Mode() Mode { return ModeJSON }

func (PackageDetailProtocol) Accept() string { return "application/json" }

func (PackageDetailProtocol) RequestURL(baseURL, name string) string {
	return baseURL + "/api/v2/package/" + url.PathEscape(name)
}

func (PackageDetailProtocol) ExtractVersion(body []byte) (string, error) {
	return JSONExtractor{}.ExtractVersion(body)
}

// FeedQueryProtocol queries GET {base}/api/v2/Packages()?$filter=Id eq '{name}'.
type FeedQueryProtocol struct{}

var _ Protocol = FeedQueryProtocol{}

func (FeedQueryProtocol) Mode() Mode { return ModeFeed }

func (FeedQueryProtocol) Accept() string { return "application/atom+xml, application/xml" }

func (FeedQueryProtocol) RequestURL(baseURL, name string) string {
	// OData string literals escape a quote by doubling it.
	filter := "Id eq '" + strings.ReplaceAll(name, "'", "''") + "'"
	return baseURL + "/api/v2/Packages()?$filter=" + queryEscape(filter)
}

func (FeedQueryProtocol) ExtractVersion(body []byte) (string, error) {
	return FeedExtractor{}.ExtractVersion(body)
}

// queryEscape escapes s for a query value, spelling spaces as %20 as OData
// servers expect.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// JSONExtractor reads Properties.version from a package-detail document.
type JSONExtractor struct{}

func (JSONExtractor) ExtractVersion(body []byte) (string, error) {
	var detail struct {
		Properties *struct {
			Version *string `json:"version"`
		} `json:"Properties"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return "", fmt.Errorf("index: decoding package detail: %w", err)
	}
	if detail.Properties == nil || detail.Properties.Version == nil {
		return "", ErrVersionNotFound
	}
	version := *detail.Properties.Version
	if strings.TrimSpace(version) == "" {
		return "", ErrVersionNotFound
	}
	return version, nil
}

// FeedExtractor returns the text of the first {DataServicesNamespace}Version
// element anywhere in an XML feed.
type FeedExtractor struct{}

func (FeedExtractor) ExtractVersion(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", ErrVersionNotFound
		}
		if err != nil {
			return "", fmt.Errorf("index: decoding feed: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != DataServicesNamespace || start.Name.Local != "Version" {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return "", fmt.Errorf("index: decoding feed version: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrVersionNotFound
		}
		return text, nil
	}
}

// extractorForContentType maps a response media type to an extractor, or nil
// when the type says nothing about the body format.
func extractorForContentType(contentType string) Extractor {
	if strings.TrimSpace(contentType) == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return JSONExtractor{}
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return FeedExtractor{}
	default:
		return nil
	}
}
