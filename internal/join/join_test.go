package join

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

var _ = Describe("Coordinator", func() {
	var (
		c       *Coordinator
		renders []model.RenderJob
		stale   [][2]string
	)

	BeforeEach(func() {
		renders = nil
		stale = nil
		var err error
		c, err = New(time.Minute, func(rj model.RenderJob) {
			renders = append(renders, rj)
		}, func(requestID, imageID string) {
			stale = append(stale, [2]string{requestID, imageID})
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		c.Close()
	})

	Describe("depositing both branches", func() {
		It("emits exactly one RenderJob and clears the entry", func() {
			c.DepositTranslation("r1", "p-100", []model.TranslatedItem{{TranslatedText: "안녕"}})
			Expect(c.Len()).To(Equal(1))

			c.DepositInpainting("r1", model.InpaintResult{RequestID: "r1", ImageID: "p-100"})

			Expect(renders).To(HaveLen(1))
			Expect(renders[0].RequestID).To(Equal("r1"))
			Expect(c.Len()).To(Equal(0))
		})
	})

	Describe("branch ordering", func() {
		It("is order-independent", func() {
			c.DepositInpainting("r2", model.InpaintResult{RequestID: "r2", ImageID: "p-200"})
			c.DepositTranslation("r2", "p-200", nil)

			Expect(renders).To(HaveLen(1))
			Expect(renders[0].RequestID).To(Equal("r2"))
		})
	})

	Describe("a single-branch entry", func() {
		It("never emits a RenderJob on its own", func() {
			c.DepositTranslation("r3", "p-300", nil)
			Expect(renders).To(BeEmpty())
			Expect(c.Len()).To(Equal(1))
		})
	})

	Describe("a branch arriving after its entry was already swept stale", func() {
		It("does not re-enter the map or emit a second error", func() {
			short, err := New(30*time.Millisecond, func(rj model.RenderJob) {
				renders = append(renders, rj)
			}, func(requestID, imageID string) {
				stale = append(stale, [2]string{requestID, imageID})
			})
			Expect(err).NotTo(HaveOccurred())
			defer short.Close()

			short.DepositTranslation("r4", "p-400", nil)
			Eventually(func() [][2]string { return stale }, time.Second, 5*time.Millisecond).
				Should(ContainElement([2]string{"r4", "p-400"}))
			Expect(short.Len()).To(Equal(0))

			short.DepositInpainting("r4", model.InpaintResult{RequestID: "r4", ImageID: "p-400"})

			Consistently(func() int { return len(renders) }, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(0))
			Expect(short.Len()).To(Equal(0))
			Expect(stale).To(HaveLen(1))
		})
	})
})
