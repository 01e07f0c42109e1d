package payment_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentPkg "github.com/fastgas/payment-reconciliation/internal/payment"
)

const successCallbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 2350},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254708374149}
				]
			}
		}
	}
}`

const cancelCallbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}
	}
}`

var _ = Describe("ParseCallback", func() {
	Context("with a success payload", func() {
		It("should extract the correlation ids and payment metadata", func() {
			cb, err := paymentPkg.ParseCallback([]byte(successCallbackBody))

			Expect(err).ToNot(HaveOccurred())
			Expect(cb.CheckoutRequestID).To(Equal("ws_CO_191220191020363925"))
			Expect(cb.MerchantRequestID).To(Equal("29115-34620561-1"))
			Expect(cb.ResultCode).To(Equal(0))
			Expect(cb.ReceiptNumber).To(Equal("NLJ7RT61SV"))
			Expect(cb.Amount).To(Equal(int64(2350)))
			Expect(cb.PhoneNumber).To(Equal("254708374149"))

			Expect(cb.TransactionDate.Year()).To(Equal(2019))
			Expect(cb.TransactionDate.Month().String()).To(Equal("December"))
			Expect(cb.TransactionDate.Day()).To(Equal(19))
			Expect(cb.TransactionDate.Hour()).To(Equal(10))
			Expect(cb.TransactionDate.Minute()).To(Equal(21))
		})

		It("should keep the raw body for the audit trail", func() {
			cb, err := paymentPkg.ParseCallback([]byte(successCallbackBody))

			Expect(err).ToNot(HaveOccurred())
			Expect(string(cb.Raw)).To(ContainSubstring("NLJ7RT61SV"))
		})
	})

	Context("with a cancellation payload", func() {
		It("should parse without requiring payment metadata", func() {
			cb, err := paymentPkg.ParseCallback([]byte(cancelCallbackBody))

			Expect(err).ToNot(HaveOccurred())
			Expect(cb.ResultCode).To(Equal(1032))
			Expect(cb.ReceiptNumber).To(BeEmpty())
		})
	})

	Context("with malformed payloads", func() {
		It("should reject non-JSON bodies", func() {
			_, err := paymentPkg.ParseCallback([]byte("not json"))
			Expect(err).To(HaveOccurred())
		})

		It("should reject a payload with no correlation id", func() {
			body := `{"Body": {"stkCallback": {"ResultCode": 0, "ResultDesc": "ok"}}}`
			_, err := paymentPkg.ParseCallback([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("correlation id"))
		})

		It("should reject a payload missing ResultCode", func() {
			body := `{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_1", "ResultDesc": "ok"}}}`
			_, err := paymentPkg.ParseCallback([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ResultCode"))
		})

		It("should reject a success payload missing the receipt", func() {
			body := `{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "ws_CO_1",
						"ResultCode": 0,
						"ResultDesc": "ok",
						"CallbackMetadata": {
							"Item": [
								{"Name": "Amount", "Value": 2350},
								{"Name": "TransactionDate", "Value": 20191219102115}
							]
						}
					}
				}
			}`
			_, err := paymentPkg.ParseCallback([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("MpesaReceiptNumber"))
		})

		It("should reject a success payload with an unparseable transaction date", func() {
			body := `{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "ws_CO_1",
						"ResultCode": 0,
						"ResultDesc": "ok",
						"CallbackMetadata": {
							"Item": [
								{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
								{"Name": "TransactionDate", "Value": "19-12-2019"}
							]
						}
					}
				}
			}`
			_, err := paymentPkg.ParseCallback([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("TransactionDate"))
		})

		It("should reject a success payload without metadata at all", func() {
			body := `{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_1", "ResultCode": 0}}}`
			_, err := paymentPkg.ParseCallback([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("CallbackMetadata"))
		})
	})
})
