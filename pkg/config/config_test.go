/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/protocol"
)

var _ = Describe("Config", func() {
	It("has valid defaults", func() {
		c := Default()
		gomega.Expect(Check(c)).To(gomega.Succeed())
		gomega.Expect(c.TrustPolicy()).To(gomega.Equal(protocol.DefaultTrustPolicy()))
		gomega.Expect(c.RuntimeConfig().MaxTxRetries).To(gomega.Equal(8))
	})

	It("keeps defaults for missing keys", func() {
		c, err := Parse(`
[trust]
auto_accept_threshold = 5
`)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(c.Trust.AutoAcceptThreshold).To(gomega.Equal(5))
		gomega.Expect(c.Trust.MinimumThreshold).To(gomega.Equal(2))
		gomega.Expect(c.Log.Level).To(gomega.Equal("info"))
	})

	It("rejects inverted trust thresholds", func() {
		c, err := Parse(`
[trust]
auto_accept_threshold = 1
minimum_threshold = 4
`)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(Check(c)).To(gomega.MatchError(gomega.ContainSubstring("exceeds")))
	})

	It("rejects unknown log levels and a journal without durable store", func() {
		c := Default()
		c.Log.Level = "loud"
		gomega.Expect(Check(c)).NotTo(gomega.Succeed())

		c = Default()
		c.Journal.Dir = "/tmp/journal"
		gomega.Expect(Check(c)).To(gomega.MatchError(gomega.ContainSubstring("in-memory")))
	})

	It("applies environment overrides", func() {
		env := map[string]string{EnvLogLevel: " debug ", EnvStoreDir: "/var/lib/store"}
		c := Default()
		c.applyEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})
		gomega.Expect(c.Log.Level).To(gomega.Equal("debug"))
		gomega.Expect(c.Store.Dir).To(gomega.Equal("/var/lib/store"))
	})

	When("loading a file", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = ioutil.TempDir("", "config")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		write := func(content string) string {
			path := filepath.Join(dir, "engine.toml")
			gomega.Expect(ioutil.WriteFile(path, []byte(content), 0o600)).To(gomega.Succeed())
			return path
		}

		It("reads every section", func() {
			c, err := Load(write(`
[store]
dir = "/data/store"
sync_writes = true

[journal]
dir = "/data/journal"

[runtime]
max_tx_retries = 3

[log]
console = false
`))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(c.Store).To(gomega.Equal(Store{Dir: "/data/store", SyncWrites: true}))
			gomega.Expect(c.Journal.Dir).To(gomega.Equal("/data/journal"))
			gomega.Expect(c.Runtime.MaxTxRetries).To(gomega.Equal(3))
			gomega.Expect(c.Log.Console).To(gomega.BeFalse())
			gomega.Expect(Check(c)).To(gomega.Succeed())
		})

		It("rejects unknown keys", func() {
			_, err := Load(write(`
[runtime]
max_retries = 3
`))
			gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("runtime.max_retries")))
		})
	})
})
