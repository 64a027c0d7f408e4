package gatt_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGatt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Gatt Suite")
}
