// Package s3 provides a small client for S3-compatible object storage
// (AWS, MinIO, Ceph RGW, Garage).
//
// It covers what the workflow store needs: ensure a bucket exists and put,
// get, list and delete objects. Missing objects are reported as
// ErrObjectNotFound.
package s3
