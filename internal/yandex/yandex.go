// Package yandex holds the connection and credential plumbing shared by
// the SpeechKit and Translate gRPC clients.
package yandex

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

// Credentials authenticate calls to Yandex Cloud APIs. An IAM token takes
// precedence over an API key.
type Credentials struct {
	IAMToken string
	APIKey   string
	FolderID string
}

// Validate checks that some form of authentication is present.
func (c Credentials) Validate() error {
	if c.IAMToken == "" && c.APIKey == "" {
		return fmt.Errorf("yandex credentials require an IAM token or an API key")
	}
	return nil
}

// Authorization returns the value of the authorization header.
func (c Credentials) Authorization() string {
	if c.IAMToken != "" {
		return "Bearer " + c.IAMToken
	}
	return "Api-Key " + c.APIKey
}

// Outgoing attaches the credentials to ctx as gRPC metadata.
func (c Credentials) Outgoing(ctx context.Context) context.Context {
	md := metadata.Pairs("authorization", c.Authorization())
	if c.FolderID != "" {
		md.Append("x-folder-id", c.FolderID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// Dial opens a TLS gRPC connection to endpoint.
func Dial(endpoint string) (*grpc.ClientConn, error) {
	tlsConfig := &tls.Config{}
	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return conn, nil
}
