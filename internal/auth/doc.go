// Package auth resolves the credentials presented to the Ingress service.
//
// Three modes are supported: openshift reads the cluster pull secret and
// cluster ID from the cluster the exporter runs in, sso exchanges Red Hat
// service account credentials for an Ingress token through the accounts
// management API, and manual serves explicitly configured values.
package auth
