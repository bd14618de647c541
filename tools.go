// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tools

// Package main pins the ginkgo CLI so `go run github.com/onsi/ginkgo/v2/ginkgo
// -tags integration ./...` uses the same version as the library.
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "github.com/onsi/gomega"
)
