// Package translate implements C5: a rate-limited client for the
// JSON-array translation endpoint, grounded on
// dispatching_pipeline/text_translate.py's call_translation_api and
// contains_chinese.
package translate

import (
	"bytes"
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client calls a Gemini-style generateContent endpoint constrained to a
// JSON array response schema, one call per batch of texts.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *fasthttp.Client
	limiter  *rate.Limiter
}

// New builds a Client. rps is the maximum sustained requests per
// second; burst is fixed at 1 so a call always waits for the next
// token rather than spending a reserve (spec.md §4.5: "the next call
// blocks until now ≥ last_start + 1/RPS").
func New(endpoint, apiKey, modelName string, rps float64) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    modelName,
		client:   &fasthttp.Client{},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type generateRequest struct {
	SystemInstruction content          `json:"system_instruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
	ResponseSchema   schema `json:"responseSchema"`
}

type schema struct {
	Type  string `json:"type"`
	Items struct {
		Type string `json:"type"`
	} `json:"items"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Many translates texts in a single request. On any transport, HTTP,
// or schema-shape failure after one retry it returns an empty slice —
// the dispatcher treats that as "inpaint-only mode", never as an
// error (spec.md §4.5).
func (c *Client) Many(ctx context.Context, texts []string, requestID string) []string {
	if len(texts) == 0 {
		return nil
	}

	var out []string
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return []string{}
		}
		out, err = c.call(ctx, texts)
		if err == nil && len(out) == len(texts) {
			return postFilter(out)
		}
		nlog.Warningf("translate: attempt %d for request %s failed: %v", attempt+1, requestID, err)
	}
	nlog.Errorln("translate: degrading to inpaint-only mode for request", requestID)
	return []string{}
}

func (c *Client) call(ctx context.Context, texts []string) ([]string, error) {
	prompt, err := buildPrompt(texts)
	if err != nil {
		return nil, err
	}

	reqBody := generateRequest{
		SystemInstruction: content{
			Parts: []part{{Text: "You are a professional Chinese-to-Korean translator for e-commerce product images."}},
		},
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	reqBody.GenerationConfig.ResponseMimeType = "application/json"
	reqBody.GenerationConfig.ResponseSchema.Type = "ARRAY"
	reqBody.GenerationConfig.ResponseSchema.Items.Type = "STRING"

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	url := c.endpoint + "/" + c.model + ":generateContent?key=" + c.apiKey
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	var doErr error
	if ok {
		doErr = c.client.DoDeadline(req, resp, deadline)
	} else {
		doErr = c.client.Do(req, resp)
	}
	if doErr != nil {
		return nil, doErr
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, errStatus(resp.StatusCode())
	}

	var gresp generateResponse
	if err := json.Unmarshal(resp.Body(), &gresp); err != nil {
		return nil, err
	}
	if len(gresp.Candidates) == 0 || len(gresp.Candidates[0].Content.Parts) == 0 {
		return nil, errEmptyResponse
	}

	var out []string
	raw := gresp.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func buildPrompt(texts []string) (string, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString("Translate each Chinese string in this JSON array to natural Korean. ")
	buf.WriteString("Return a JSON array of the same length, same order, translations only:\n")
	buf.Write(payload)
	return buf.String(), nil
}

// postFilter replaces any translation that itself contains CJK
// ideographs with an empty string (spec.md §4.5: "the translator
// occasionally echoes Chinese; we prefer a blank over a visual
// regression").
func postFilter(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		if model.ContainsCJK(s) {
			out[i] = ""
			continue
		}
		out[i] = s
	}
	return out
}
