package checkpoint

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"

	"github.com/davidahmann/simrestart/core/fsx"
)

const (
	manifestSchemaID      = "simrestart.checkpoint"
	manifestSchemaVersion = "1.0.0"
	maxManifestBytes      = 16 << 20
)

var (
	ErrInvalidManifest = errors.New("invalid checkpoint manifest")
	ErrDigestMismatch  = errors.New("checkpoint manifest digest mismatch")
)

//go:embed schema/manifest.schema.json
var manifestSchemaJSON []byte

var compiledManifestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(manifestSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return schema, nil
})

type manifest struct {
	SchemaID        string         `json:"schema_id"`
	SchemaVersion   string         `json:"schema_version"`
	SimulationPart  int            `json:"simulation_part"`
	DoublePrecision bool           `json:"double_prec"`
	FileVersion     int            `json:"file_version"`
	OutputFiles     []manifestFile `json:"output_files"`
	ManifestDigest  string         `json:"manifest_digest,omitempty"`
}

type manifestFile struct {
	Filename     string `json:"filename"`
	Offset       int64  `json:"offset"`
	ChecksumSize int64  `json:"checksum_size"`
	Checksum     string `json:"checksum"`
}

// ManifestReader reads JSON checkpoint manifests. A manifest carrying a
// manifest_digest must match the digest recomputed from its content.
type ManifestReader struct{}

func (ManifestReader) ReadHeaderAndFiles(r io.Reader) (Header, []OutputFileRecord, error) {
	payload, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		return Header{}, nil, fmt.Errorf("read checkpoint manifest: %w", err)
	}
	if len(payload) > maxManifestBytes {
		return Header{}, nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidManifest, maxManifestBytes)
	}
	return DecodeManifest(payload)
}

func DecodeManifest(payload []byte) (Header, []OutputFileRecord, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return Header{}, nil, err
	}
	if result := schema.ValidateJSON(payload); !result.IsValid() {
		return Header{}, nil, fmt.Errorf("%w: schema validation failed: %v", ErrInvalidManifest, result.Errors)
	}
	var decoded manifest
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if recorded := strings.TrimSpace(decoded.ManifestDigest); recorded != "" {
		computed, err := digestManifest(decoded)
		if err != nil {
			return Header{}, nil, err
		}
		if computed != recorded {
			return Header{}, nil, fmt.Errorf("%w: expected=%s actual=%s", ErrDigestMismatch, recorded, computed)
		}
	}

	records := make([]OutputFileRecord, 0, len(decoded.OutputFiles))
	for _, file := range decoded.OutputFiles {
		var checksum fsx.Digest
		raw, err := hex.DecodeString(file.Checksum)
		if err != nil || len(raw) != len(checksum) {
			return Header{}, nil, fmt.Errorf("%w: checksum of %s", ErrInvalidManifest, file.Filename)
		}
		copy(checksum[:], raw)
		records = append(records, OutputFileRecord{
			Filename:     file.Filename,
			Offset:       file.Offset,
			ChecksumSize: file.ChecksumSize,
			Checksum:     checksum,
		})
	}
	header := Header{
		SimulationPart:  decoded.SimulationPart,
		DoublePrecision: decoded.DoublePrecision,
		FileVersion:     decoded.FileVersion,
	}
	return header, records, nil
}

// EncodeManifest renders header and records as an indented, digested manifest.
func EncodeManifest(header Header, records []OutputFileRecord) ([]byte, error) {
	encoded := manifest{
		SchemaID:        manifestSchemaID,
		SchemaVersion:   manifestSchemaVersion,
		SimulationPart:  header.SimulationPart,
		DoublePrecision: header.DoublePrecision,
		FileVersion:     header.FileVersion,
		OutputFiles:     make([]manifestFile, 0, len(records)),
	}
	for _, record := range records {
		encoded.OutputFiles = append(encoded.OutputFiles, manifestFile{
			Filename:     record.Filename,
			Offset:       record.Offset,
			ChecksumSize: record.ChecksumSize,
			Checksum:     hex.EncodeToString(record.Checksum[:]),
		})
	}
	digest, err := digestManifest(encoded)
	if err != nil {
		return nil, err
	}
	encoded.ManifestDigest = digest
	payload, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint manifest: %w", err)
	}
	return append(payload, '\n'), nil
}

// digestManifest is the sha256 of the RFC 8785 form of the manifest without
// its digest field.
func digestManifest(value manifest) (string, error) {
	value.ManifestDigest = ""
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode manifest for digest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
