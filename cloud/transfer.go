/*
Copyright © 2019 the CCISM authors.
This file is part of CCISM.

CCISM is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CCISM is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CCISM.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// Transfer copies the files of a time series archive between a local
// directory and a blob storage location.
type Transfer struct {
	// MaxRetries is the number of times a failed file copy is retried.
	MaxRetries uint64

	// Log receives retry messages. The default is the logrus standard logger.
	Log logrus.FieldLogger

	// Progress, if not nil, is called after each file is copied.
	Progress func(name string)
}

func (t *Transfer) log() logrus.FieldLogger {
	if t.Log == nil {
		return logrus.StandardLogger()
	}
	return t.Log
}

// retry runs op with exponential backoff, giving up after t.MaxRetries
// retries or when ctx is done.
func (t *Transfer) retry(ctx context.Context, name string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		t.log().WithField("file", name).Warnf("%v: retrying in %v", err, d)
	})
}

// Upload copies the regular files in dir to location. Subdirectories
// are ignored. It returns the names of the copied files.
func (t *Transfer) Upload(ctx context.Context, dir, location string) ([]string, error) {
	l, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, l)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cloud: listing files to upload: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		err := t.retry(ctx, name, func() error {
			return writeBlob(ctx, bucket, l.Key(name), filepath.Join(dir, name))
		})
		if err != nil {
			return names, err
		}
		names = append(names, name)
		if t.Progress != nil {
			t.Progress(name)
		}
	}
	return names, nil
}

// Download copies the files at location to dir, creating dir if needed.
// It returns the names of the copied files.
func (t *Transfer) Download(ctx context.Context, location, dir string) ([]string, error) {
	l, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, l)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cloud: creating download directory: %v", err)
	}

	keys, err := listBlobs(ctx, bucket, l.Prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, key := range keys {
		name := path.Base(key)
		err := t.retry(ctx, name, func() error {
			return readBlob(ctx, bucket, key, filepath.Join(dir, name))
		})
		if err != nil {
			return names, err
		}
		names = append(names, name)
		if t.Progress != nil {
			t.Progress(name)
		}
	}
	return names, nil
}

// listBlobs returns the keys of the blobs directly under prefix in
// lexical order.
func listBlobs(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	iter := bucket.List(&blob.ListOptions{
		Prefix:    prefix,
		Delimiter: "/",
	})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cloud: listing blobs: %v", err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// readBlob copies the given blob to the file at dst.
func readBlob(ctx context.Context, bucket *blob.Bucket, key, dst string) error {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	defer r.Close()
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cloud: creating %s: %v", dst, err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("cloud: reading blob key %s: %v", key, err)
	}
	return f.Close()
}

// writeBlob copies the file at src to the given blob.
func writeBlob(ctx context.Context, bucket *blob.Bucket, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cloud: opening %s: %v", src, err)
	}
	defer f.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/x-netcdf"})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
	}
	if _, err = io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying blob %s: %v", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", key, err)
	}
	return nil
}
