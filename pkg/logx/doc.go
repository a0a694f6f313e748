// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase depends on a small, stable API
// (Logger + Field helpers) instead of zerolog directly.
package logx
