package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// RemoteVerifier asks Supabase Auth who owns a token. Used when the project
// signs tokens with asymmetric keys and no shared secret is configured.
type RemoteVerifier struct {
	client *supabase.Client
}

func NewRemoteVerifier(url, serviceKey string) (*RemoteVerifier, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}
	return &RemoteVerifier{client: client}, nil
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user", ErrInvalidToken)
	}
	return &Identity{UserID: user.ID.String(), Email: user.Email, Role: user.Role}, nil
}
