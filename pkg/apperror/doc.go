// Package apperror defines the error taxonomy shared across logship's
// ingest, staging, conversion, and cluster components, and maps each
// kind to its retry and HTTP-surfacing policy.
package apperror
