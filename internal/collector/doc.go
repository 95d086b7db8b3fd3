// Package collector discovers locally produced record files and ships
// them to the collection endpoint.
//
// One CollectOnce call is one collection cycle: walk the data directory
// for pending *.json files, filter out symlinks and files outside the
// allowed subdirectories, remove files too large to ever upload, pack
// what remains into size-bounded gzip tarballs, upload each tarball, and
// delete uploaded files when cleanup is enabled. After the cycle the data
// directory is purged down to its size limit so records nobody deletes
// cannot fill the disk.
//
// The service holds an advisory lock on the data directory for its whole
// lifetime; two exporters collecting the same directory would upload
// records twice and race each other's cleanup.
package collector
