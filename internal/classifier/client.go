package classifier

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/reflexd/internal/safety"
)

// classifyMethod is the full method name served by the classifier sidecar.
// The sidecar exchanges google.protobuf.Struct payloads, so no generated
// stubs are checked in here.
const classifyMethod = "/reflex.v1.SafetyClassifier/Classify"

// #region client-struct

// Client wraps the gRPC connection to the semantic safety classifier sidecar.
// Implements safety.DeepClassifier.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor

// NewClient connects to the classifier sidecar.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client with an injected connection.
// Used for testing without a real gRPC dial.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region classify

// Classify sends text to the sidecar and maps its label onto a Verdict.
// Unknown labels map to uncertain; the guard resolves those conservatively.
func (c *Client) Classify(ctx context.Context, text string) (safety.Verdict, string, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return safety.VerdictUncertain, "", fmt.Errorf("build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, classifyMethod, req, resp); err != nil {
		return safety.VerdictUncertain, "", fmt.Errorf("classify rpc: %w", err)
	}

	verdict, reason := ParseVerdict(resp)
	return verdict, reason, nil
}

// ParseVerdict extracts (label, reason) from a sidecar response.
func ParseVerdict(resp *structpb.Struct) (safety.Verdict, string) {
	fields := resp.GetFields()
	label := fields["label"].GetStringValue()
	reason := fields["reason"].GetStringValue()

	switch safety.Verdict(label) {
	case safety.VerdictSafe:
		return safety.VerdictSafe, reason
	case safety.VerdictUnsafe:
		return safety.VerdictUnsafe, reason
	default:
		if reason == "" {
			reason = fmt.Sprintf("unrecognized classifier label %q", label)
		}
		return safety.VerdictUncertain, reason
	}
}

// #endregion classify
