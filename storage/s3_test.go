package storage

import (
	"testing"

	"ikman_scrooper/config"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		cfg  config.S3Config
		want string
	}{
		{
			config.S3Config{Bucket: "listings-img", Region: "ap-south-1"},
			"https://listings-img.s3.ap-south-1.amazonaws.com/listings/a1/image_1.jpg",
		},
		{
			config.S3Config{Bucket: "listings-img", Endpoint: "https://sgp1.digitaloceanspaces.com"},
			"https://listings-img.sgp1.digitaloceanspaces.com/listings/a1/image_1.jpg",
		},
		{
			config.S3Config{Bucket: "listings-img", Endpoint: "http://localhost:9000/"},
			"http://localhost:9000/listings-img/listings/a1/image_1.jpg",
		},
	}

	for _, tt := range tests {
		u := &S3Uploader{cfg: tt.cfg}
		if got := u.PublicURL("listings/a1/image_1.jpg"); got != tt.want {
			t.Fatalf("expected %s, got %s", tt.want, got)
		}
	}
}
