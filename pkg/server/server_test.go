/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ephemera-dev/ephemera/pkg/fake"
	"github.com/ephemera-dev/ephemera/pkg/lifecycle"
	"github.com/ephemera-dev/ephemera/pkg/server"
	"github.com/ephemera-dev/ephemera/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const webhookSecret = "topsecret"

var (
	ctx        context.Context
	env        *fake.Store
	cluster    *fake.Cluster
	sourcehost *fake.SourceHost
	jobs       *fake.JobSubmitter
	handler    http.Handler
)

var _ = BeforeEach(func() {
	ctx = context.Background()
	clk := clocktesting.NewFakeClock(time.Now())
	env = fake.NewStore()
	env.Clock = clk
	cluster = fake.NewCluster()
	sourcehost = fake.NewSourceHost()
	jobs = fake.NewJobSubmitter()
	controller := lifecycle.NewController(env, cluster, sourcehost, fake.NewWorkloadDeployer(), jobs, clk, zap.NewNop().Sugar())
	handler = server.New(0, env, controller, webhookSecret, zap.NewNop().Sugar()).Handler()
})

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(event string, payload []byte, secret string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-GitHub-Event", event)
	request.Header.Set("X-GitHub-Delivery", "delivery-1")
	request.Header.Set("X-Hub-Signature-256", sign(secret, payload))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func pullRequestPayload(action string, number int) []byte {
	payload := map[string]any{
		"action": action,
		"number": number,
		"pull_request": map[string]any{
			"number": number,
			"title":  "Add checkout flow",
			"merged": false,
			"head": map[string]any{
				"ref": "feature/checkout",
				"sha": "abc123",
			},
			"user": map[string]any{
				"id":    1001,
				"login": "octocat",
			},
		},
		"repository": map[string]any{
			"name":      "shop",
			"full_name": "acme/shop",
		},
		"installation": map[string]any{
			"id": 777,
		},
	}
	body, err := json.Marshal(payload)
	Expect(err).ToNot(HaveOccurred())
	return body
}

var _ = Describe("Webhooks", func() {
	It("should reject deliveries with a bad signature", func() {
		recorder := postWebhook("pull_request", pullRequestPayload("opened", 42), "wrong-secret")
		Expect(recorder.Code).To(Equal(http.StatusForbidden))
	})
	It("should answer ping", func() {
		recorder := postWebhook("ping", []byte(`{"zen": "Keep it logically awesome."}`), webhookSecret)
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring(`"pong"`))
	})
	It("should create an environment and enqueue provisioning on opened", func() {
		recorder := postWebhook("pull_request", pullRequestPayload("opened", 42), webhookSecret)
		Expect(recorder.Code).To(Equal(http.StatusOK))

		response := map[string]any{}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
		Expect(response["status"]).To(Equal("accepted"))
		Expect(response["action"]).To(Equal("opened"))
		Expect(response["pr"]).To(Equal(float64(42)))
		Expect(response["delivery_id"]).To(Equal("delivery-1"))

		created, err := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).ToNot(BeNil())
		Expect(jobs.ProvisionJobs).To(HaveLen(1))
	})
	It("should ignore unhandled events", func() {
		recorder := postWebhook("issues", []byte(`{"action": "opened"}`), webhookSecret)
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring(`"ignored"`))
		Expect(jobs.ProvisionJobs).To(BeEmpty())
	})
	It("should enqueue teardown on closed", func() {
		postWebhook("pull_request", pullRequestPayload("opened", 42), webhookSecret)
		recorder := postWebhook("pull_request", pullRequestPayload("closed", 42), webhookSecret)
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(jobs.DestroyJobs).To(HaveLen(1))
	})
	It("should report malformed pull request payloads without failing the delivery", func() {
		recorder := postWebhook("pull_request", []byte(`{"action": `), webhookSecret)
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring("malformed payload"))
	})
})

var _ = Describe("Environments API", func() {
	createBody := func(prNumber int) []byte {
		body, err := json.Marshal(map[string]any{
			"repository_full_name": "acme/shop",
			"repository_name":      "shop",
			"pr_number":            prNumber,
			"pr_title":             "Add checkout flow",
			"branch_name":          "feature/checkout",
			"commit_sha":           "abc123",
			"installation_id":      777,
			"user_id":              1001,
			"user_login":           "octocat",
		})
		Expect(err).ToNot(HaveOccurred())
		return body
	}
	post := func(body []byte) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodPost, "/api/v1/environments", bytes.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder
	}
	get := func(path string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder
	}

	It("should create an environment", func() {
		recorder := post(createBody(42))
		Expect(recorder.Code).To(Equal(http.StatusCreated))

		response := map[string]any{}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(Succeed())
		Expect(response["namespace"]).To(Equal("pr-42-shop"))
		Expect(response["status"]).To(Equal("pending"))
		Expect(jobs.ProvisionJobs).To(HaveLen(1))
	})
	It("should return the existing environment on repeat creation", func() {
		Expect(post(createBody(42)).Code).To(Equal(http.StatusCreated))
		recorder := post(createBody(42))
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(jobs.ProvisionJobs).To(HaveLen(1))
	})
	It("should reject incomplete create requests", func() {
		body, _ := json.Marshal(map[string]any{"repository_full_name": "acme/shop"})
		Expect(post(body).Code).To(Equal(http.StatusBadRequest))
	})
	It("should list environments with filters", func() {
		Expect(post(createBody(42)).Code).To(Equal(http.StatusCreated))
		Expect(post(createBody(43)).Code).To(Equal(http.StatusCreated))
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 43)
		_, err := env.UpdateEnvironmentStatus(ctx, created.ID, store.StatusDestroying, "")
		Expect(err).ToNot(HaveOccurred())

		var listed []map[string]any
		Expect(json.Unmarshal(get("/api/v1/environments?repository=acme/shop").Body.Bytes(), &listed)).To(Succeed())
		Expect(listed).To(HaveLen(2))

		Expect(json.Unmarshal(get("/api/v1/environments?repository=acme/shop&active_only=true").Body.Bytes(), &listed)).To(Succeed())
		Expect(listed).To(HaveLen(1))
	})
	It("should get an environment by id", func() {
		Expect(post(createBody(42)).Code).To(Equal(http.StatusCreated))
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)

		recorder := get(fmt.Sprintf("/api/v1/environments/%d", created.ID))
		Expect(recorder.Code).To(Equal(http.StatusOK))
	})
	It("should return 404 for an unknown id", func() {
		Expect(get("/api/v1/environments/9999").Code).To(Equal(http.StatusNotFound))
	})
	It("should get an environment by namespace", func() {
		Expect(post(createBody(42)).Code).To(Equal(http.StatusCreated))
		Expect(get("/api/v1/environments/namespace/pr-42-shop").Code).To(Equal(http.StatusOK))
		Expect(get("/api/v1/environments/namespace/pr-99-shop").Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Health", func() {
	It("should report healthy", func() {
		request := httptest.NewRequest(http.MethodGet, "/health", nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		Expect(recorder.Code).To(Equal(http.StatusOK))
	})
	It("should report ready when the database responds", func() {
		request := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		Expect(recorder.Code).To(Equal(http.StatusOK))
	})
	It("should report unavailable when the database is down", func() {
		env.PingError = fmt.Errorf("connection refused")
		request := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		Expect(recorder.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
