package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text untouched", "Giờ giao hàng của bạn là gì?", "Giờ giao hàng của bạn là gì?"},
		{"email", "mail me: nguyen.van.a@example.com", "mail me: n***@example.com"},
		{"phone", "call 0912345678 now", "call *******678 now"},
		{"international phone", "+84 912 345 678", "*******678"},
		{"email and phone", "Contact me at a@b.com or 0912345678", "Contact me at a***@b.com or *******678"},
		{"house number", "Ship to 12 Nguyen Trai street", "Ship to Nguyen Trai street"},
		{"house number with suffix at start", "45B Le Loi", "Le Loi"},
		{"short numbers not a phone", "table 12, 3 guests", "table 12, 3 guests"},
		{"unicode email local part", "mail nguyễn@gmail.com", "mail n***@gmail.com"},
		{"unicode email domain", "gửi tới đức.anh@cửahàng.vn", "gửi tới đ***@cửahàng.vn"},
		{"price is not a phone", "giá 1.200.000 đồng", "giá 1.200.000 đồng"},
		{"date is not a phone", "ngày 2024-11-12 nhé", "ngày 2024-11-12 nhé"},
		{"quantity kept", "Đặt 2 pizza", "Đặt 2 pizza"},
		{"time kept", "mở cửa lúc 10:30 sáng", "mở cửa lúc 10:30 sáng"},
		{"house number after label", "Địa chỉ: 12 Nguyễn Trãi", "Địa chỉ: Nguyễn Trãi"},
		{"house number after cue word", "giao đến số 7 Lê Lợi", "giao đến số Lê Lợi"},
		{"house number on new line", "Giao giúp em\n35 Hai Bà Trưng", "Giao giúp em\nHai Bà Trưng"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.in))
		})
	}
}

func TestMaskNeverLeaksOriginalSubstrings(t *testing.T) {
	inputs := map[string][]string{
		"Contact me at a@b.com or 0912345678":      {"a@b.com", "0912345678"},
		"email: support.team@shop.vn":              {"support.team@shop.vn"},
		"phone 028-3822-1234, backup 0903.111.222": {"028-3822-1234", "0903.111.222"},
		"mail nguyễn@gmail.com":                    {"nguyễn@", "guyễn"},
		"liên hệ trần.thị.bích@shop.vn":            {"trần.thị.bích@shop.vn", "rần.thị"},
	}

	for raw, secrets := range inputs {
		masked := Mask(raw)
		for _, secret := range secrets {
			assert.Contains(t, raw, secret)
			assert.NotContains(t, masked, secret, "masked %q", masked)
		}
	}
}

func TestMaskPhoneFewDigits(t *testing.T) {
	assert.Equal(t, phoneMask, maskPhone("1 - - - -2"))
	assert.Equal(t, "*******789", maskPhone("123-456-789"))
}
