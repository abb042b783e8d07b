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

// Package cloud copies time series archives to and from blob storage.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// Location is a directory in a blob storage bucket.
type Location struct {
	// Provider is "file" for the local filesystem, "gs" for Google Cloud
	// Storage or "s3" for AWS S3.
	Provider string

	// Bucket is the bucket name, or the root directory for the "file"
	// provider.
	Bucket string

	// Prefix is the directory within the bucket, without leading or
	// trailing slashes.
	Prefix string
}

// ParseLocation parses a location in the format provider://bucket/prefix.
// For the "file" provider, the whole path is the bucket and the prefix
// is empty, e.g. file:///data/archive.
func ParseLocation(location string) (Location, error) {
	u, err := url.Parse(location)
	if err != nil {
		return Location{}, fmt.Errorf("cloud: parsing location: %v", err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Host + u.Path
		if dir == "" {
			return Location{}, fmt.Errorf("cloud: location %s has no directory", location)
		}
		return Location{Provider: u.Scheme, Bucket: dir}, nil
	case "gs", "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("cloud: location %s has no bucket name", location)
		}
		return Location{Provider: u.Scheme, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("cloud: invalid provider %q in location %s", u.Scheme, location)
	}
}

// Key returns the blob key of file name within the location.
func (l Location) Key(name string) string {
	if l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

func (l Location) String() string {
	if l.Prefix == "" {
		return l.Provider + "://" + l.Bucket
	}
	return l.Provider + "://" + l.Bucket + "/" + l.Prefix
}

// OpenBucket opens the bucket of l.
func OpenBucket(ctx context.Context, l Location) (*blob.Bucket, error) {
	switch l.Provider {
	case "file":
		if err := os.MkdirAll(l.Bucket, 0755); err != nil {
			return nil, fmt.Errorf("cloud: creating bucket directory: %v", err)
		}
		return fileblob.OpenBucket(l.Bucket, nil)
	case "gs":
		return gsBucket(ctx, l.Bucket)
	case "s3":
		return s3Bucket(ctx, l.Bucket)
	default:
		return nil, fmt.Errorf("cloud: invalid provider %s", l.Provider)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-central-1"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, fmt.Errorf("cloud: creating AWS session: %v", err)
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
