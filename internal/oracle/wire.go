package oracle

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC names of the remote oracle service.
const (
	ServiceName  = "rcpsp.v1.Oracle"
	DecideMethod = "/rcpsp.v1.Oracle/Decide"
)

// Request is the decoded form of a remote Decide call.
type Request struct {
	Problem *instance.Problem
	Bound   int
	Budget  time.Duration
}

// EncodeRequest packs a Decide call. The problem travels in the instance file
// format so both ends share one parser.
func EncodeRequest(p *instance.Problem, bound int, budget time.Duration) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if err := instance.Format(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to encode instance: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"name":      p.Name,
		"instance":  buf.String(),
		"bound":     bound,
		"budget_ms": budget.Milliseconds(),
	})
}

// DecodeRequest unpacks a Decide call.
func DecodeRequest(msg *structpb.Struct) (Request, error) {
	fields := msg.GetFields()
	text, ok := fields["instance"]
	if !ok {
		return Request{}, fmt.Errorf("request has no instance")
	}
	p, err := instance.Parse(fields["name"].GetStringValue(), strings.NewReader(text.GetStringValue()))
	if err != nil {
		return Request{}, err
	}
	return Request{
		Problem: p,
		Bound:   int(fields["bound"].GetNumberValue()),
		Budget:  time.Duration(fields["budget_ms"].GetNumberValue()) * time.Millisecond,
	}, nil
}

// EncodeDecision packs a Decide response.
func EncodeDecision(d Decision) (*structpb.Struct, error) {
	starts := make([]interface{}, len(d.Starts))
	for i, s := range d.Starts {
		starts[i] = s
	}
	return structpb.NewStruct(map[string]interface{}{
		"verdict": string(d.Verdict),
		"starts":  starts,
	})
}

// DecodeDecision unpacks a Decide response.
func DecodeDecision(msg *structpb.Struct) (Decision, error) {
	fields := msg.GetFields()
	verdict := types.Verdict(fields["verdict"].GetStringValue())
	switch verdict {
	case types.VerdictFeasible, types.VerdictInfeasible, types.VerdictTimedOut:
	default:
		return Decision{}, fmt.Errorf("unknown verdict %q", verdict)
	}

	d := Decision{Verdict: verdict}
	for _, v := range fields["starts"].GetListValue().GetValues() {
		d.Starts = append(d.Starts, int(v.GetNumberValue()))
	}
	return d, nil
}
