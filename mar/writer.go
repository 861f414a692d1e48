// Package mar packs artifacts into MAR files (a zstd compressed tar holding a manifest and the
// attachment) and batches them in a holding area until they are worth an upload.
package mar

import (
	"archive/tar"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	// Extension is the file extension of single artifact MAR files
	Extension     = ".mar"
	manifestName  = "manifest.json"
	schemaVersion = 1
)

// Manifest describes the attachment inside a MAR file
type Manifest struct {
	SchemaVersion  int                  `json:"schema_version"`
	Type           string               `json:"type"`
	DebugTag       string               `json:"debug_tag"`
	CollectionTime payload.CombinedTime `json:"collection_time"`
	Attachment     string               `json:"attachment,omitempty"`
	Metadata       json.RawMessage      `json:"metadata"`
}

// Writer creates MAR files in a directory
type Writer struct {
	dir string
}

var _ uploader.MarWriter = (*Writer)(nil)

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "Cannot create MAR directory %s", dir)
	}
	return &Writer{dir: dir}, nil
}

// CreateForFile packs req into a new MAR file and removes the staged file
func (w *Writer) CreateForFile(ctx context.Context, req uploader.Request) (string, error) {
	metadata, err := payload.Marshal(req.Metadata)
	if err != nil {
		return "", err
	}
	manifest := Manifest{
		SchemaVersion:  schemaVersion,
		Type:           req.Metadata.Type(),
		DebugTag:       req.DebugTag,
		CollectionTime: req.CollectionTime,
		Metadata:       metadata,
	}
	if req.File != "" {
		manifest.Attachment = filepath.Base(req.File)
	}

	marFile := filepath.Join(w.dir, uuid.New().String()+Extension)
	pending, err := renameio.TempFile(w.dir, marFile)
	if err != nil {
		return "", errors.Wrap(err, "Cannot create MAR file")
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if err = writeMar(pending, manifest, req.File); err != nil {
		return "", err
	}
	if err = pending.CloseAtomicallyReplace(); err != nil {
		return "", errors.Wrap(err, "Cannot finish MAR file")
	}

	if req.File != "" {
		if err = os.Remove(req.File); err != nil && !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("file", req.File).Warn("Cannot remove file packed into MAR")
		}
	}
	return marFile, nil
}

func writeMar(out io.Writer, manifest Manifest, attachment string) error {
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	now := time.Now()
	if err = tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0600, Size: int64(len(data)), ModTime: now}); err != nil {
		return err
	}
	if _, err = tw.Write(data); err != nil {
		return err
	}

	if attachment != "" {
		if err = addFile(tw, attachment, manifest.Attachment); err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "Cannot open %s", path)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if err = tw.WriteHeader(&tar.Header{Name: name, Mode: 0600, Size: fi.Size(), ModTime: fi.ModTime()}); err != nil {
		return err
	}
	if _, err = io.Copy(tw, f); err != nil {
		return errors.Wrapf(err, "Cannot copy %s into archive", path)
	}
	return nil
}

// ReadManifest returns the manifest of a MAR file
func ReadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return Manifest{}, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return Manifest{}, errors.Errorf("%s has no manifest", path)
		} else if err != nil {
			return Manifest{}, errors.Wrapf(err, "Cannot read %s", path)
		}
		if hdr.Name != manifestName {
			continue
		}
		var m Manifest
		if err = json.NewDecoder(tr).Decode(&m); err != nil {
			return Manifest{}, errors.Wrapf(err, "Cannot decode manifest of %s", path)
		}
		return m, nil
	}
}
