// Copyright 2025 CloudShim Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"

	"github.com/cloudshim/cloudshim/cmd"
)

func main() {
	flag.Parse()

	cmd.Execute()
}
