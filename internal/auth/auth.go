// Package auth resolves a bearer token to a caller identity and role set.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/olie-orders/internal/aws"
)

// Roles recognised by the invokers.
const (
	RoleAdmin       = "admin"
	RoleAtendimento = "atendimento"
)

// ErrInvalidToken is returned for missing, expired or rejected tokens.
var ErrInvalidToken = errors.New("invalid token")

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (id *Identity) HasAnyRole(roles ...string) bool {
	if id == nil {
		return false
	}
	for _, have := range id.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// RoleStore reads the user_roles table: {user_id, roles}.
type RoleStore struct {
	client aws.DynamoDBAPI
	table  string
}

func NewRoleStore(client aws.DynamoDBAPI, table string) *RoleStore {
	return &RoleStore{client: client, table: table}
}

type roleRecord struct {
	UserID string   `dynamodbav:"user_id"`
	Roles  []string `dynamodbav:"roles"`
}

// Roles returns the roles granted to userID; none when the user has no row.
func (r *RoleStore) Roles(ctx context.Context, userID string) ([]string, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &r.table,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec roleRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	return rec.Roles, nil
}

// SupabaseVerifier validates tokens against the Supabase auth user endpoint
// and loads roles from a RoleStore.
type SupabaseVerifier struct {
	baseURL string
	anonKey string
	http    *http.Client
	roles   *RoleStore
}

func NewSupabaseVerifier(baseURL, anonKey string, roles *RoleStore, httpClient *http.Client) *SupabaseVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SupabaseVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    httpClient,
		roles:   roles,
	}
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.anonKey != "" {
		req.Header.Set("apikey", v.anonKey)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth endpoint returned %d", resp.StatusCode)
	}

	var u supabaseUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{UserID: u.ID, Email: u.Email}
	if v.roles != nil {
		roles, err := v.roles.Roles(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		id.Roles = roles
	}
	return id, nil
}

// StaticVerifier maps fixed tokens to identities. Used for local runs and tests.
type StaticVerifier map[string]Identity

func (s StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	id, ok := s[token]
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}
	return &id, nil
}
