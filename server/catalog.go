package server

type Photo struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// SamplePhotos 内置的示例图片，处理接口使用缩略图，查看接口使用原图
var SamplePhotos = []Photo{
	{
		ID:           1,
		Title:        "Sample Nature Image",
		URL:          "https://images.unsplash.com/photo-1501854140801-50d01698950b?w=600",
		ThumbnailURL: "https://images.unsplash.com/photo-1501854140801-50d01698950b?w=150",
	},
	{
		ID:           2,
		Title:        "Sample Portrait",
		URL:          "https://images.unsplash.com/photo-1438761681033-6461ffad8d80?w=600",
		ThumbnailURL: "https://images.unsplash.com/photo-1438761681033-6461ffad8d80?w=150",
	},
	{
		ID:           3,
		Title:        "Sample Architecture",
		URL:          "https://images.unsplash.com/photo-1487958449943-2429e8be8625?w=600",
		ThumbnailURL: "https://images.unsplash.com/photo-1487958449943-2429e8be8625?w=150",
	},
}

type Catalog struct {
	photos []Photo
}

func NewCatalog(photos []Photo) *Catalog {
	if photos == nil {
		photos = SamplePhotos
	}
	return &Catalog{photos: photos}
}

// List 最多返回 limit 张
func (c *Catalog) List(limit int) []Photo {
	if limit > len(c.photos) {
		limit = len(c.photos)
	}
	if limit < 0 {
		limit = 0
	}
	return c.photos[:limit]
}

func (c *Catalog) Get(id int) (Photo, bool) {
	for _, p := range c.photos {
		if p.ID == id {
			return p, true
		}
	}
	return Photo{}, false
}
