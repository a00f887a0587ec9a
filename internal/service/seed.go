package service

import "eyeworks-storefront/internal/domain"

// SampleProducts is the starter inventory loaded by "storefront seed".
func SampleProducts() []domain.Product {
	return []domain.Product{
		{
			Name:        "Aviator Classic",
			Category:    "Sunglasses",
			Stock:       12,
			Price:       11250,
			Supplier:    "Luxottica",
			Description: "The quintessence of heritage cool. Gold-plated metal construction with high-definition polarized lenses.",
			FrameType:   "Metal",
			LensType:    "Polarized",
			Color:       "Gold",
			Image:       "https://images.unsplash.com/photo-1572635196237-14b3f281503f?auto=format&fit=crop&q=80&w=800",
		},
		{
			Name:        "Minimalist Frame",
			Category:    "Optical",
			Stock:       4,
			Price:       8400,
			Supplier:    "Zenith",
			Description: "Architecturally inspired frames in premium Italian acetate, engineered for the digital workspace.",
			FrameType:   "Acetate",
			LensType:    "Blue Light Filter",
			Color:       "Black",
			Image:       "https://images.unsplash.com/photo-1577803645773-f96470509666?auto=format&fit=crop&q=80&w=800",
		},
		{
			Name:        "Cat-Eye Elegance",
			Category:    "Optical",
			Stock:       8,
			Price:       14200,
			Supplier:    "Vogue",
			Description: "A vintage-modern cat-eye silhouette with spring hinges and anti-reflective coating.",
			FrameType:   "Acetate",
			Color:       "Tortoise",
			Image:       "https://images.unsplash.com/photo-1511499767390-90342f5673a7?auto=format&fit=crop&q=80&w=800",
		},
		{
			Name:        "Executive Round",
			Category:    "Optical",
			Stock:       2,
			Price:       18500,
			Supplier:    "Titan",
			Description: "Round frames forged from pure, nickel-free titanium.",
			FrameType:   "Titanium",
			Color:       "Rose Gold",
			Image:       "https://images.unsplash.com/photo-1509695507497-903c140c43b0?auto=format&fit=crop&q=80&w=800",
		},
		{
			Name:        "Active Sports Wrap",
			Category:    "Sunglasses",
			Stock:       15,
			Price:       6800,
			Supplier:    "Endurance",
			Description: "Impact-resistant wraparound protection with hydrophobic coating.",
			FrameType:   "Wrap",
			LensType:    "Impact Resistant",
			Color:       "Electric Blue",
			Image:       "https://images.unsplash.com/photo-1512101176959-c557f3516787?auto=format&fit=crop&q=80&w=800",
		},
		{
			Name:        "Daily Soft Contact",
			Category:    "Contact Lenses",
			Stock:       25,
			Price:       2450,
			Supplier:    "Acuvue",
			Description: "Daily disposables infused with moisturizing technology.",
			LensType:    "Daily",
			Color:       "Clear",
			Image:       "https://images.unsplash.com/photo-1617347454431-f49d7ff5c3b1?auto=format&fit=crop&q=80&w=800",
		},
	}
}
