package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client reads streams from a Hub.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a hub at addr without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Describe fetches the descriptor of stream name.
func (c *Client) Describe(ctx context.Context, name string) (Descriptor, error) {
	out := new(structpb.Struct)
	err := c.conn.Invoke(ctx, "/"+hubServiceName+"/Describe", wrapperspb.String(name), out)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: %w", name, err)
	}
	return DescriptorFromStruct(out)
}

// Subscribe calls fn for every sample on stream name until ctx ends, the
// server closes the stream, or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, name string, fn func(Sample) error) error {
	cs, err := c.conn.NewStream(ctx, &hubServiceDesc.Streams[0], "/"+hubServiceName+"/Subscribe")
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	if err := cs.SendMsg(wrapperspb.String(name)); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	if err := cs.CloseSend(); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	for {
		msg := new(structpb.Struct)
		if err := cs.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_, s := SampleFromStruct(msg)
		if err := fn(s); err != nil {
			return err
		}
	}
}
