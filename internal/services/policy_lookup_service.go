package services

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"locker-backend/internal/models"
	"locker-backend/internal/repository"
	"locker-backend/internal/utils"
)

// SessionCredential execution credential of a policy as seen by the engine
type SessionCredential struct {
	Encrypted string
	Address   common.Address // derived session-key address, zero when not decrypted
	usable    bool
	invalid   bool
}

// Usable reports whether the credential may be handed to the executor
func (c SessionCredential) Usable() bool {
	return c.usable
}

// Invalid reports whether policy management flagged the credential as revoked
func (c SessionCredential) Invalid() bool {
	return c.invalid
}

// ActivePolicy a policy together with its resolved credential
type ActivePolicy struct {
	Policy     *models.Policy
	Credential SessionCredential
}

// PolicyLookupService resolves the active split policy of a locker on a chain
type PolicyLookupService struct {
	policies repository.PolicyRepository
	cipher   *utils.SessionKeyCipher // nil skips decryption checks
	logger   *logrus.Logger
}

// NewPolicyLookupService cipher may be nil, in which case any non-empty credential is usable
func NewPolicyLookupService(policies repository.PolicyRepository, cipher *utils.SessionKeyCipher, logger *logrus.Logger) *PolicyLookupService {
	return &PolicyLookupService{policies: policies, cipher: cipher, logger: logger}
}

// GetActivePolicy returns nil, nil when the locker has no policy on the chain.
// Errors are reserved for datastore failures.
func (s *PolicyLookupService) GetActivePolicy(ctx context.Context, lockerID string, chainID int64) (*ActivePolicy, error) {
	policy, err := s.policies.GetByLockerAndChain(ctx, lockerID, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy for locker %s on chain %d: %w", lockerID, chainID, err)
	}
	if policy == nil {
		return nil, nil
	}

	return &ActivePolicy{
		Policy:     policy,
		Credential: s.resolveCredential(policy),
	}, nil
}

func (s *PolicyLookupService) resolveCredential(policy *models.Policy) SessionCredential {
	credential := SessionCredential{
		Encrypted: policy.EncryptedSessionKey,
		invalid:   policy.SessionKeyInvalid,
	}
	if !policy.HasSessionKey() {
		return credential
	}
	if s.cipher == nil {
		credential.usable = true
		return credential
	}

	privateKey, err := s.cipher.Open(policy.EncryptedSessionKey, policy.LockerID, policy.ChainID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"policy_id": policy.ID,
			"locker_id": policy.LockerID,
			"chain_id":  policy.ChainID,
		}).Warnf("⚠️ [Policy] Session key cannot be opened, treating locker as unauthorized: %v", err)
		return credential
	}

	credential.Address = utils.SessionKeyAddress(privateKey)
	credential.usable = true
	return credential
}
