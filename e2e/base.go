package e2e

import (
	"bytes"
	"chat-relay/domain"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips when no relay is reachable
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.HTTPAddr == "" {
		s.T().Skip("RELAY_HTTP_ADDR not set, skipping end-to-end suite")
	}
}

func (s *BaseRelaySuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// GrpcConn initializes a gRPC connection with logging, colors, and JSON debugging
func (s *BaseRelaySuite) GrpcConn(t *testing.T, name string, addr string) *grpc.ClientConn {
	s.header(t, name)

	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))

			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, marshaler.Format(req.(proto.Message)))
				if err != nil {
					fmt.Fprintln(&logBuilder, "ERROR:", err)
				} else {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, marshaler.Format(reply.(proto.Message)))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+addr)
	return conn
}

// WithHealth provides a health client within a contextual test step
func (s *BaseRelaySuite) WithHealth(name string, fn func(ctx context.Context, client grpc_health_v1.HealthClient)) {
	if s.Config.GrpcAddr == "" {
		s.T().Skip("RELAY_GRPC_ADDR not set")
	}
	conn := s.GrpcConn(s.T(), name, s.Config.GrpcAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fn(ctx, grpc_health_v1.NewHealthClient(conn))
}

// Dial opens a websocket session, query carries room and user_id
func (s *BaseRelaySuite) Dial(name string, query url.Values) *websocket.Conn {
	s.header(s.T(), name)
	u := url.URL{Scheme: "ws", Host: s.Config.HTTPAddr, Path: "/ws", RawQuery: query.Encode()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	s.Require().NoError(err, "Failed to dial "+u.String())
	s.T().Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// Next reads payloads until one of the given type arrives
func (s *BaseRelaySuite) Next(conn *websocket.Conn, chatType domain.ChatType) domain.ChatPayload {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		s.Require().NoError(err)
		payload, err := domain.ParsePayload(data)
		s.Require().NoError(err)
		if s.Config.DebugJSON {
			s.T().Logf("WS <- %s", data)
		}
		if payload.Type == chatType {
			return payload
		}
	}
}

func (s *BaseRelaySuite) Send(conn *websocket.Conn, payload domain.ChatPayload) {
	data, err := payload.Encode()
	s.Require().NoError(err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(conn.Write(ctx, websocket.MessageText, data))
}

// PostJSON sends body to the relay HTTP API and decodes the answer into out when given
func (s *BaseRelaySuite) PostJSON(path string, body, out any) int {
	data, err := json.Marshal(body)
	s.Require().NoError(err)
	resp, err := http.Post("http://"+s.Config.HTTPAddr+path, "application/json", bytes.NewReader(data))
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *BaseRelaySuite) GetJSON(path string, out any) int {
	resp, err := http.Get("http://" + s.Config.HTTPAddr + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
