package castellan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesUnverifiedAccountAndSendsCodes(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification)
	assert.NotEmpty(t, res.UserID)

	rec, err := env.store.GetUserByID(context.Background(), res.UserID)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.NotEqual(t, "correct horse battery", rec.PasswordHash)

	require.Equal(t, 2, env.sender.count())
	assert.NotEmpty(t, env.sender.lastCode(ChannelEmail))
	assert.NotEmpty(t, env.sender.lastCode(ChannelSMS))
}

func TestRegisterDuplicateIdentifier(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.seedUser(t, "alice", "alice@example.com", "+15550100", "correct horse battery")

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "other@example.com",
		Phone:      "+15550199",
		Password:   "another long password",
	})
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
}

func TestRegisterAcceptsEightCharPasswords(t *testing.T) {
	env := newTestEnv(t, testConfig())

	// The default policy floor is 8 characters.
	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "Pwd12345!",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.UserID)
}

func TestRegisterWeakPassword(t *testing.T) {
	env := newTestEnv(t, testConfig())

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "short",
	})
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegisterInvalidContact(t *testing.T) {
	env := newTestEnv(t, testConfig())

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "not-an-email",
		Phone:      "+15550100",
		Password:   "correct horse battery",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "5550100",
		Password:   "correct horse battery",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerifyRegistrationAcrossSeparateCalls(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ctx := context.Background()
	res, err := env.engine.Register(ctx, RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)

	partial, err := env.engine.VerifyRegistration(ctx, res.UserID, ChallengeCodes{
		SMSCode: env.sender.lastCode(ChannelSMS),
	})
	require.NoError(t, err)
	assert.False(t, partial.Verified)
	assert.Equal(t, []Channel{ChannelEmail}, partial.Remaining)

	// Partial progress survives; only the email channel is still owed.
	final, err := env.engine.VerifyRegistration(ctx, res.UserID, ChallengeCodes{
		EmailCode: env.sender.lastCode(ChannelEmail),
	})
	require.NoError(t, err)
	assert.True(t, final.Verified)

	rec, err := env.store.GetUserByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, rec.Verified)

	// A verified account can now log in.
	login, err := env.engine.Login(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.True(t, login.MFARequired)
}

func TestVerifyRegistrationWrongCode(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ctx := context.Background()
	res, err := env.engine.Register(ctx, RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)

	_, err = env.engine.VerifyRegistration(ctx, res.UserID, ChallengeCodes{EmailCode: "000111"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The real code still works afterwards.
	partial, err := env.engine.VerifyRegistration(ctx, res.UserID, ChallengeCodes{
		EmailCode: env.sender.lastCode(ChannelEmail),
	})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelSMS}, partial.Remaining)
}

func TestVerifyRegistrationExpiredCode(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ctx := context.Background()
	res, err := env.engine.Register(ctx, RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Phone:      "+15550100",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)
	code := env.sender.lastCode(ChannelEmail)

	env.redis.FastForward(11 * time.Minute)

	_, err = env.engine.VerifyRegistration(ctx, res.UserID, ChallengeCodes{EmailCode: code})
	assert.ErrorIs(t, err, ErrNoActiveChallenge)
}

func TestVerifyRegistrationAlreadyVerified(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := env.seedUser(t, "alice", "alice@example.com", "+15550100", "correct horse battery")

	res, err := env.engine.VerifyRegistration(context.Background(), user.UserID, ChallengeCodes{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestRegisterWithoutVerificationChannels(t *testing.T) {
	cfg := testConfig()
	cfg.Registration.RequireEmailVerification = false
	cfg.Registration.RequireSMSVerification = false
	env := newTestEnv(t, cfg)

	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Identifier: "alice",
		Email:      "alice@example.com",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)
	assert.False(t, res.RequiresVerification)
	assert.Zero(t, env.sender.count())

	rec, err := env.store.GetUserByID(context.Background(), res.UserID)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}
