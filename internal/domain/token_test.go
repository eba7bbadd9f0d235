package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

func TestTokenIsExpired(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	require.True(t, (&domain.Token{ExpiresAt: &past}).IsExpired())
	require.False(t, (&domain.Token{ExpiresAt: &future}).IsExpired())
	require.False(t, (&domain.Token{}).IsExpired())
}

func TestTokenIsExpiringSoon(t *testing.T) {
	insideWindow := time.Now().Add(domain.ExpiringSoonWindow - time.Minute)
	outsideWindow := time.Now().Add(domain.ExpiringSoonWindow + time.Minute)
	past := time.Now().Add(-time.Minute)

	require.True(t, (&domain.Token{ExpiresAt: &insideWindow}).IsExpiringSoon())
	require.False(t, (&domain.Token{ExpiresAt: &outsideWindow}).IsExpiringSoon())
	// An already expired token is also inside the window.
	require.True(t, (&domain.Token{ExpiresAt: &past}).IsExpiringSoon())
	require.False(t, (&domain.Token{}).IsExpiringSoon())
}
