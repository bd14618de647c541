// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var repo *postgres.UserRepository

	BeforeEach(func() {
		repo = postgres.NewUserRepository(suitePool)
		_, err := suitePool.Exec(suiteCtx, "DELETE FROM users")
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores an unregistered user and finds it by name in any case", func() {
		user, err := auth.NewUser("Steve")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(suiteCtx, user)).To(Succeed())

		found, err := repo.GetByName(suiteCtx, "steve")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(user.ID))
		Expect(found.Name).To(Equal("Steve"))
		Expect(found.IsRegistered()).To(BeFalse())
	})

	It("round-trips a credential and the last authentication time", func() {
		user, err := auth.NewUser("Alex")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(suiteCtx, user)).To(Succeed())

		provider := auth.NewArgon2idProvider()
		cred, err := provider.CreateHash("hunter22")
		Expect(err).NotTo(HaveOccurred())
		user.SetCredential(cred)
		user.RecordAuthentication(time.Now().UTC().Truncate(time.Microsecond))
		Expect(repo.Update(suiteCtx, user)).To(Succeed())

		found, err := repo.GetByID(suiteCtx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(found.IsRegistered()).To(BeTrue())
		Expect(found.Credential.Algorithm).To(Equal(auth.AlgorithmArgon2id))
		Expect(found.LastAuthenticatedAt).NotTo(BeNil())

		ok, err := provider.Matches("hunter22", found.Credential)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("reports a missing user as ErrNotFound", func() {
		_, err := repo.GetByName(suiteCtx, "nobody")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("rejects a second user whose name differs only in case", func() {
		first, err := auth.NewUser("Notch")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(suiteCtx, first)).To(Succeed())

		second, err := auth.NewUser("NOTCH")
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(suiteCtx, second)).To(MatchError(auth.ErrAlreadyExists))
	})
})
