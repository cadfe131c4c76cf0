package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/gsclone/internal/api"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/store"
	"github.com/imamik/gsclone/internal/workflow"
)

// fakeService is a Service with overridable behavior and call tracking.
type fakeService struct {
	mu sync.Mutex

	ProvisionFunc    func(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error)
	ResumeFunc       func(ctx context.Context, guestID int) (*provisioning.Outcome, error)
	StatusFunc       func(ctx context.Context, guestID int) (*provisioning.WorkflowStatus, error)
	DecommissionFunc func(ctx context.Context, guestID int, ownerID string) (*provisioning.DecommissionResult, error)

	Progress      map[string]progress.Entry
	Guests        []*workflow.ManagedGuest
	ProvisionReqs []provisioning.Request
	ListOwners    []string
}

func (f *fakeService) Provision(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
	f.mu.Lock()
	f.ProvisionReqs = append(f.ProvisionReqs, req)
	f.mu.Unlock()
	if f.ProvisionFunc != nil {
		return f.ProvisionFunc(ctx, req)
	}
	return &provisioning.Outcome{GuestID: 101, Token: req.Token, Status: workflow.StatusCompleted}, nil
}

func (f *fakeService) Accept(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Progress[token] = progress.Entry{Status: workflow.StatusInProgress, CurrentStep: workflow.StepAdmission}
}

func (f *fakeService) Resume(ctx context.Context, guestID int) (*provisioning.Outcome, error) {
	if f.ResumeFunc != nil {
		return f.ResumeFunc(ctx, guestID)
	}
	return &provisioning.Outcome{GuestID: guestID, Status: workflow.StatusCompleted}, nil
}

func (f *fakeService) GetWorkflowStatus(ctx context.Context, guestID int) (*provisioning.WorkflowStatus, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, guestID)
	}
	return nil, fmt.Errorf("load workflow %d: %w", guestID, store.ErrNotFound)
}

func (f *fakeService) GetLiveProgress(token string) (progress.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.Progress[token]
	if !ok {
		return progress.Entry{}, provisioning.ErrProgressNotFound
	}
	return e, nil
}

func (f *fakeService) Decommission(ctx context.Context, guestID int, ownerID string) (*provisioning.DecommissionResult, error) {
	if f.DecommissionFunc != nil {
		return f.DecommissionFunc(ctx, guestID, ownerID)
	}
	return &provisioning.DecommissionResult{GuestID: guestID, ProxyDeregistered: true}, nil
}

func (f *fakeService) ListGuests(_ context.Context, ownerID string) ([]*workflow.ManagedGuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListOwners = append(f.ListOwners, ownerID)
	var out []*workflow.ManagedGuest
	for _, g := range f.Guests {
		if ownerID == "" || g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeService) provisionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ProvisionReqs)
}

var _ = Describe("Handler", func() {
	var (
		svc     *fakeService
		handler *api.Handler
		server  *httptest.Server
		baseCtx context.Context
		stop    context.CancelFunc
	)

	BeforeEach(func() {
		svc = &fakeService{Progress: map[string]progress.Entry{}}
		baseCtx, stop = context.WithCancel(context.Background())
		handler = api.NewHandler(svc, api.WithBaseContext(baseCtx), api.WithLogger(GinkgoLogr))
		server = httptest.NewServer(handler)
	})

	AfterEach(func() {
		server.Close()
		stop()
		handler.Wait()
	})

	do := func(method, path string, body any) (*http.Response, map[string]any) {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req, err := http.NewRequest(method, server.URL+path, &buf)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var decoded map[string]any
		if resp.ContentLength != 0 {
			_ = json.NewDecoder(resp.Body).Decode(&decoded)
		}
		return resp, decoded
	}

	Context("POST /v1/guests", func() {
		request := map[string]any{"ownerId": "u1", "sourceGuestId": 100, "name": "srv-a", "seed": "42"}

		It("provisions and returns the outcome", func() {
			resp, body := do(http.MethodPost, "/v1/guests", request)

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(body).To(HaveKeyWithValue("guestId", BeNumerically("==", 101)))
			Expect(body).To(HaveKeyWithValue("status", "completed"))
			Expect(body["token"]).NotTo(BeEmpty())

			Expect(svc.ProvisionReqs).To(HaveLen(1))
			Expect(svc.ProvisionReqs[0].Seed).To(Equal("42"))
			Expect(progress.ValidToken(svc.ProvisionReqs[0].Token)).To(BeTrue())
		})

		It("keeps the outcome on failures", func() {
			svc.ProvisionFunc = func(_ context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
				return &provisioning.Outcome{GuestID: 101, Token: req.Token, Status: workflow.StatusPaused, CanRetry: true},
					fmt.Errorf("%w at address_reservation: no MAC", provisioning.ErrWorkflowPaused)
			}

			resp, body := do(http.MethodPost, "/v1/guests", request)

			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(body).To(HaveKeyWithValue("guestId", BeNumerically("==", 101)))
			Expect(body).To(HaveKeyWithValue("canRetry", true))
			Expect(body["error"]).To(ContainSubstring("no MAC"))
		})

		DescribeTable("maps errors to status codes",
			func(err error, code int) {
				svc.ProvisionFunc = func(_ context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
					return &provisioning.Outcome{Token: req.Token, Status: workflow.StatusFailed}, err
				}
				resp, _ := do(http.MethodPost, "/v1/guests", request)
				Expect(resp.StatusCode).To(Equal(code))
			},
			Entry("invalid", provisioning.ErrInvalidRequest, http.StatusBadRequest),
			Entry("quota", provisioning.ErrQuotaExceeded, http.StatusTooManyRequests),
			Entry("router down", provisioning.ErrAddressGatewayUnavailable, http.StatusServiceUnavailable),
			Entry("unknown source", provisioning.ErrSourceNotFound, http.StatusNotFound),
			Entry("clone failed", provisioning.ErrCloneFailed, http.StatusBadGateway),
			Entry("unexpected", errors.New("boom"), http.StatusInternalServerError),
		)

		It("rejects malformed bodies", func() {
			resp, body := do(http.MethodPost, "/v1/guests", map[string]any{"owner": "u1"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(ContainSubstring("unknown field"))
			Expect(svc.provisionCalls()).To(BeZero())
		})

		It("does not cancel provisioning when the client goes away", func() {
			started := make(chan struct{})
			finished := make(chan error, 1)
			svc.ProvisionFunc = func(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
				close(started)
				select {
				case <-ctx.Done():
					finished <- ctx.Err()
				case <-time.After(300 * time.Millisecond):
					finished <- nil
				}
				return &provisioning.Outcome{GuestID: 101, Token: req.Token}, nil
			}

			reqCtx, cancelReq := context.WithCancel(context.Background())
			buf, _ := json.Marshal(request)
			req, _ := http.NewRequestWithContext(reqCtx, http.MethodPost, server.URL+"/v1/guests", bytes.NewReader(buf))
			go func() { _, _ = http.DefaultClient.Do(req) }()

			Eventually(started).Should(BeClosed())
			cancelReq()
			Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
		})

		It("cancels detached work when the server shuts down", func() {
			finished := make(chan error, 1)
			svc.ProvisionFunc = func(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
				<-ctx.Done()
				finished <- ctx.Err()
				return &provisioning.Outcome{Token: req.Token}, ctx.Err()
			}

			resp, body := do(http.MethodPost, "/v1/guests?async=true", request)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(resp.Header.Get("Location")).To(HavePrefix("/v1/progress/"))
			Expect(body).To(HaveKeyWithValue("status", "in-progress"))

			stop()
			Eventually(finished).Should(Receive(MatchError(context.Canceled)))
			handler.Wait()
		})

		It("makes accepted requests visible in live progress at once", func() {
			release := make(chan struct{})
			svc.ProvisionFunc = func(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error) {
				<-release
				return &provisioning.Outcome{GuestID: 101, Token: req.Token}, nil
			}
			defer close(release)

			resp, _ := do(http.MethodPost, "/v1/guests?async=true", request)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			progressResp, body := do(http.MethodGet, resp.Header.Get("Location"), nil)
			Expect(progressResp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("currentStep", "admission"))
			Expect(body).To(HaveKeyWithValue("status", "in-progress"))
		})

		It("validates async requests up front", func() {
			resp, _ := do(http.MethodPost, "/v1/guests?async=true", map[string]any{"ownerId": "u1", "name": "srv-a"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Consistently(svc.provisionCalls, 100*time.Millisecond).Should(BeZero())
		})
	})

	Context("GET /v1/progress/{token}", func() {
		It("returns the live snapshot", func() {
			token := progress.NewToken()
			svc.Progress[token] = progress.Entry{GuestID: 101, Status: workflow.StatusInProgress, CurrentStep: workflow.StepCloning, ProgressPercent: 32}

			resp, body := do(http.MethodGet, "/v1/progress/"+token, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("progressPercent", BeNumerically("==", 32)))
			Expect(body).To(HaveKeyWithValue("currentStep", "cloning"))
		})

		It("reports unknown tokens", func() {
			resp, _ := do(http.MethodGet, "/v1/progress/"+progress.NewToken(), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects malformed tokens", func() {
			resp, _ := do(http.MethodGet, "/v1/progress/not-a-token", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Context("workflows", func() {
		It("returns the durable status", func() {
			svc.StatusFunc = func(_ context.Context, id int) (*provisioning.WorkflowStatus, error) {
				w := workflow.New(id, "u1", "srv-a", 100, time.Now())
				return &provisioning.WorkflowStatus{Workflow: w, CanRetry: false}, nil
			}
			resp, body := do(http.MethodGet, "/v1/workflows/101", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("canRetry", false))
			Expect(body["workflow"]).To(HaveKeyWithValue("guestId", BeNumerically("==", 101)))
		})

		It("reports missing workflows", func() {
			resp, _ := do(http.MethodGet, "/v1/workflows/404", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects bad ids", func() {
			resp, _ := do(http.MethodGet, "/v1/workflows/abc", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("resumes", func() {
			resp, body := do(http.MethodPost, "/v1/workflows/101/resume", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "completed"))
		})

		It("refuses to resume finished workflows", func() {
			svc.ResumeFunc = func(_ context.Context, id int) (*provisioning.Outcome, error) {
				return &provisioning.Outcome{GuestID: id, Status: workflow.StatusCompleted},
					fmt.Errorf("%w: workflow %d is completed", provisioning.ErrNotResumable, id)
			}
			resp, body := do(http.MethodPost, "/v1/workflows/101/resume", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(body["error"]).To(ContainSubstring("completed"))
		})
	})

	Context("guests", func() {
		BeforeEach(func() {
			svc.Guests = []*workflow.ManagedGuest{
				{GuestID: 101, OwnerID: "u1", DisplayName: "srv-a"},
				{GuestID: 102, OwnerID: "u2", DisplayName: "srv-b"},
			}
		})

		It("lists guests of an owner", func() {
			resp, err := http.Get(server.URL + "/v1/guests?owner=u1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var guests []workflow.ManagedGuest
			Expect(json.NewDecoder(resp.Body).Decode(&guests)).To(Succeed())
			Expect(guests).To(HaveLen(1))
			Expect(guests[0].DisplayName).To(Equal("srv-a"))
		})

		It("returns an empty list, not null", func() {
			resp, err := http.Get(server.URL + "/v1/guests?owner=nobody")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var raw json.RawMessage
			Expect(json.NewDecoder(resp.Body).Decode(&raw)).To(Succeed())
			Expect(string(raw)).To(Equal("[]"))
		})

		It("decommissions", func() {
			var owner string
			svc.DecommissionFunc = func(_ context.Context, id int, ownerID string) (*provisioning.DecommissionResult, error) {
				owner = ownerID
				return &provisioning.DecommissionResult{GuestID: id, AddressReleased: true}, nil
			}
			resp, body := do(http.MethodDelete, "/v1/guests/101?owner=u1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("addressReleased", true))
			Expect(owner).To(Equal("u1"))
		})

		It("forbids decommissioning other owners' guests", func() {
			svc.DecommissionFunc = func(context.Context, int, string) (*provisioning.DecommissionResult, error) {
				return nil, provisioning.ErrNotOwner
			}
			resp, _ := do(http.MethodDelete, "/v1/guests/101?owner=u2", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})

	It("serves health checks", func() {
		resp, body := do(http.MethodGet, "/healthz", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("status", "ok"))
	})

	It("rejects unknown methods", func() {
		resp, _ := do(http.MethodPut, "/v1/guests", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})
})
