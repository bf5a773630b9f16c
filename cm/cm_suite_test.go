// Package cm_test exercises the change manager family's state machines.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cm_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
